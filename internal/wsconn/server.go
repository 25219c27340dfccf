package wsconn

import (
	"net/http"

	"github.com/gorilla/websocket"
	connmonitor "gitlab.com/NebulousLabs/monitor"
	"gitlab.com/NebulousLabs/ratelimit"

	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/scheduler"
	"github.com/gridx-labs/coordinator/internal/store"
)

// perSessionBandwidthBPS is the read/write cap applied to every worker
// channel. It is deliberately generous (job payloads are bounded at 10 MiB
// anyway) and exists only to keep one misbehaving worker from starving the
// coordinator's event loop.
const perSessionBandwidthBPS = 8 << 20 // 8 MiB/s

// Server accepts worker connections on the /ws/worker path
// and upgrades each to a Session.
type Server struct {
	st       *store.Store
	reg      *registry.Registry
	sched    *scheduler.Scheduler
	cfg      config.Config
	log      *persist.Logger
	upgrader websocket.Upgrader
	monitor  *connmonitor.Monitor
}

// NewServer builds a worker-channel Server bound to the coordinator's core
// components.
func NewServer(st *store.Store, reg *registry.Registry, sched *scheduler.Scheduler, cfg config.Config, log *persist.Logger) *Server {
	return &Server{
		st:      st,
		reg:     reg,
		sched:   sched,
		cfg:     cfg,
		log:     log,
		monitor: connmonitor.NewMonitor(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler to mount as the worker channel's entire
// HTTP surface (it is served on its own port, GRIDX_WS_PORT, separate from
// the JSON HTTP API).
func (srv *Server) Handler() http.Handler {
	return http.HandlerFunc(srv.serveHTTP)
}

func (srv *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws/worker" {
		srv.rejectUnknownPath(w, r)
		return
	}

	rl := ratelimit.NewRateLimit(perSessionBandwidthBPS, perSessionBandwidthBPS, 0)
	mw := &monitoredResponseWriter{ResponseWriter: w, monitor: srv.monitor, rl: rl}
	conn, err := srv.upgrader.Upgrade(mw, r, nil)
	if err != nil {
		if srv.log != nil {
			srv.log.Warnf("ws upgrade failed: %v", err)
		}
		return
	}
	NewSession(conn, srv.st, srv.reg, srv.sched, srv.cfg, srv.log)
}

// rejectUnknownPath upgrades just far enough to send a close frame with
// code 4404 for an unrecognized path, then tears the connection down.
func (srv *Server) rejectUnknownPath(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(gridtypes.CloseUnknownPath, "unknown path"),
		connCloseDeadline())
	_ = conn.Close()
}
