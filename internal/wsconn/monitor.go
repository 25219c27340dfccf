package wsconn

import (
	"bufio"
	"net"
	"net/http"
	"time"

	connmonitor "gitlab.com/NebulousLabs/monitor"
	"gitlab.com/NebulousLabs/ratelimit"
)

// monitoredResponseWriter wraps an http.ResponseWriter so the raw
// connection gorilla/websocket hijacks during the handshake comes back
// wrapped in a bandwidth monitor and a per-session rate limit before the
// upgrade completes. Hijack is the only hook gorilla's server-side Upgrade
// exposes for wrapping the underlying net.Conn.
type monitoredResponseWriter struct {
	http.ResponseWriter
	monitor *connmonitor.Monitor
	rl      *ratelimit.RateLimit
}

// Hijack implements http.Hijacker.
func (m *monitoredResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := m.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return nil, nil, err
	}
	var wrapped net.Conn = connmonitor.NewMonitoredConn(conn, m.monitor)
	wrapped = ratelimit.NewRLConn(wrapped, m.rl, nil)
	rw := bufio.NewReadWriter(bufio.NewReader(wrapped), bufio.NewWriter(wrapped))
	return wrapped, rw, nil
}

func connCloseDeadline() time.Time {
	return time.Now().Add(writeWait)
}
