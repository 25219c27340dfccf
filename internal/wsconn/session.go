// Package wsconn implements the Worker Session state machine: one
// goroutine per connected worker, driven by JSON messages over a
// gorilla/websocket channel, from AwaitHello through teardown.
package wsconn

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/scheduler"
	"github.com/gridx-labs/coordinator/internal/store"
)

const (
	maxFrameBytes = 10 << 20
	pingInterval  = 20 * time.Second
	pongGrace     = 20 * time.Second
	writeWait     = 10 * time.Second
)

// Session is one worker's live connection, running its own read loop. It
// implements registry.Session's Send contract by writing directly to the
// underlying gorilla connection, serialized by writeMu since gorilla
// connections are not safe for concurrent writers.
type Session struct {
	conn  *websocket.Conn
	st    *store.Store
	reg   *registry.Registry
	sched *scheduler.Scheduler
	cfg   config.Config
	log   *persist.Logger

	workerID  string
	helloDone bool
	writeMu   chan struct{} // 1-buffered mutex, cheap to hold across a network write
}

// NewSession wraps an upgraded websocket connection and runs its message
// loop until the connection closes or a protocol error occurs. It blocks
// until the session ends, so callers run it in its own goroutine.
func NewSession(conn *websocket.Conn, st *store.Store, reg *registry.Registry, sched *scheduler.Scheduler, cfg config.Config, log *persist.Logger) {
	s := &Session{
		conn:    conn,
		st:      st,
		reg:     reg,
		sched:   sched,
		cfg:     cfg,
		log:     log,
		writeMu: make(chan struct{}, 1),
	}
	s.writeMu <- struct{}{}
	s.run()
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}

// send serializes v as JSON and writes it as one text frame.
func (s *Session) send(v interface{}) error {
	<-s.writeMu
	defer func() { s.writeMu <- struct{}{} }()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// run is the read loop: it drives the hello handshake and then dispatches
// steady-state messages until the connection dies, tearing down the
// session's state on the way out.
func (s *Session) run() {
	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongGrace))
		return nil
	})
	s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongGrace))

	stop := make(chan struct{})
	go s.pingLoop(stop)
	defer close(stop)
	defer s.teardown()

	for {
		var msg gridtypes.ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !s.helloDone {
			if msg.Type != gridtypes.MsgHello {
				continue // ignore anything before hello
			}
			if !s.handleHello(&msg) {
				return
			}
			continue
		}

		s.reg.Touch(s.workerID, nowFloat())
		_ = s.st.UpdateHeartbeat(s.workerID)

		switch msg.Type {
		case gridtypes.MsgHeartbeat:
			// touch above already covers it
		case gridtypes.MsgJobStarted:
			if msg.JobID != "" {
				_ = s.sched.OnStarted(msg.JobID)
			}
		case gridtypes.MsgJobLog:
			// acknowledged and discarded, not persisted
		case gridtypes.MsgJobResult:
			if msg.JobID != "" {
				_ = s.sched.OnResult(msg.JobID, s.workerID, msg.ExitCode, msg.Stdout, msg.Stderr, msg.DurationSeconds)
			}
		}
	}
}

func (s *Session) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			<-s.writeMu
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu <- struct{}{}
			if err != nil {
				return
			}
		}
	}
}

// handleHello runs the hello handshake's authentication rules in order. It
// returns false if the session should close immediately (auth failure).
func (s *Session) handleHello(msg *gridtypes.ClientMessage) bool {
	if msg.AuthTok == "" || msg.OwnerID == "" {
		if !s.cfg.LegacyUnauth {
			s.rejectAuth("authentication required")
			return false
		}
		// Keep whatever owner-id was provided so the self-dealing
		// exclusion still applies to legacy workers.
		s.accept(canonicalID(msg.WorkerID), msg.Caps, msg.OwnerID)
		return true
	}

	ua, err := s.st.GetUserAuth(msg.OwnerID)
	if err != nil {
		s.rejectAuth("internal error")
		return false
	}

	if ua == nil {
		if err := s.st.RegisterUserAuth(msg.OwnerID, msg.AuthTok); err != nil {
			s.rejectAuth("internal error")
			return false
		}
		s.acceptWithToken(canonicalID(msg.WorkerID), msg.Caps, msg.OwnerID, msg.AuthTok)
		return true
	}

	if match, err := s.st.VerifyUserAuth(msg.OwnerID, msg.AuthTok); err != nil || !match {
		s.rejectAuth("invalid credentials")
		return false
	}

	id := canonicalID(msg.WorkerID)
	if existing, found, err := s.st.FindWorkerByOwnerToken(msg.OwnerID, msg.AuthTok); err == nil && found {
		id = existing.ID // reconnect reuse: same owner, matching token
	}
	s.acceptWithToken(id, msg.Caps, msg.OwnerID, msg.AuthTok)
	return true
}

func (s *Session) rejectAuth(reason string) {
	_ = s.send(&gridtypes.AuthError{Type: gridtypes.MsgAuthError, Error: reason})
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(gridtypes.CloseAuthFailed, reason),
		time.Now().Add(writeWait))
}

// accept finalizes hello: register in the Registry, upsert the Store row,
// ack, then trigger a dispatch. It is the legacy unauthenticated path's
// entry point, where there is no token to hash.
func (s *Session) accept(workerID string, caps gridtypes.Caps, ownerID string) {
	s.acceptWithToken(workerID, caps, ownerID, "")
}

// acceptWithToken is accept plus hashing and persisting the worker's auth
// token, so a later reconnect can be matched by FindWorkerByOwnerToken.
// An empty token upserts with no hash, same as accept.
func (s *Session) acceptWithToken(workerID string, caps gridtypes.Caps, ownerID, token string) {
	s.workerID = workerID
	s.helloDone = true

	sess := &registry.Session{WorkerID: workerID, Send: s.send}
	s.reg.Register(workerID, sess, caps, ownerID, nowFloat())

	var tokenHash string
	if token != "" {
		h, err := store.HashWorkerToken(token)
		if err != nil {
			s.logf("hello: hash_worker_token %s failed: %v", workerID, err)
		} else {
			tokenHash = h
		}
	}

	if _, err := s.st.UpsertWorker(workerID, s.conn.RemoteAddr().String(), caps, ownerID, tokenHash); err != nil {
		s.logf("hello: upsert_worker %s failed: %v", workerID, err)
	}

	_ = s.send(&gridtypes.HelloAck{Type: gridtypes.MsgHelloAck, WorkerID: workerID})
	s.sched.Dispatch()
}

// teardown runs the worker disconnect sequence: unregister, mark offline,
// and requeue any job still running on this worker.
func (s *Session) teardown() {
	_ = s.conn.Close()
	if !s.helloDone {
		return
	}
	s.reg.Unregister(s.workerID)
	_ = s.st.SetWorkerOffline(s.workerID)

	jobID, running, err := s.st.JobRunningForWorker(s.workerID)
	requeued := 0
	if err == nil && running {
		if err := s.sched.Requeue(jobID); err == nil {
			requeued++
		}
	}
	s.logf("session %s closed, requeued %d job(s)", s.workerID, requeued)
}

func canonicalID(provided string) string {
	if provided != "" && gridtypes.ValidUUIDv4(provided) {
		return provided
	}
	return uuid.New().String()
}

func nowFloat() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
