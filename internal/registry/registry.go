// Package registry is the coordinator's in-memory worker directory: the
// live counterpart to the Store's durable worker rows. It answers "which
// workers are connected right now and can take a job", which the Store
// alone cannot, since a worker's row survives its session.
package registry

import (
	"gitlab.com/NebulousLabs/demotemutex"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// Session is the minimal surface the registry needs from a worker's live
// channel: just enough to push an assignment down it. internal/wsconn
// implements this over a gorilla/websocket connection.
type Session struct {
	WorkerID string
	Send     func(v interface{}) error
}

// Entry is one live worker's registry record.
type Entry struct {
	WorkerID string
	Session  *Session
	Caps     gridtypes.Caps
	OwnerID  string
	Status   string
	LastSeen float64
}

// Registry is the thread-safe worker-id -> Entry map of live worker
// sessions. A single lock guards every mutation and read; critical
// sections are kept to plain map/slice operations with no I/O.
type Registry struct {
	mu      demotemutex.DemoteMutex
	entries map[string]*Entry
	order   []string // insertion order, for pick_idle's FIFO-among-idle guarantee
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts or replaces the entry for workerID with status=idle.
// Replacing an existing entry (reconnect under a reused id) keeps its
// position in insertion order so pick_idle's ordering is driven by the
// id's first appearance, not its most recent reconnect.
func (r *Registry) Register(workerID string, session *Session, caps gridtypes.Caps, ownerID string, lastSeen float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[workerID]; !ok {
		r.order = append(r.order, workerID)
	}
	r.entries[workerID] = &Entry{
		WorkerID: workerID,
		Session:  session,
		Caps:     caps,
		OwnerID:  ownerID,
		Status:   gridtypes.WorkerIdle,
		LastSeen: lastSeen,
	}
}

// Unregister removes workerID's entry. The caller remains responsible for
// marking the Store row offline and requeueing any of its in-flight jobs
// — Unregister only clears the live directory.
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, workerID)
	for i, id := range r.order {
		if id == workerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// MarkBusy flips an entry to busy.
func (r *Registry) MarkBusy(workerID string) {
	r.setStatus(workerID, gridtypes.WorkerBusy)
}

// MarkIdle flips an entry to idle.
func (r *Registry) MarkIdle(workerID string) {
	r.setStatus(workerID, gridtypes.WorkerIdle)
}

func (r *Registry) setStatus(workerID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[workerID]; ok {
		e.Status = status
	}
}

// Touch refreshes an entry's last-seen timestamp.
func (r *Registry) Touch(workerID string, seenAt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[workerID]; ok {
		e.LastSeen = seenAt
	}
}

// Get returns a copy of workerID's entry, if present.
func (r *Registry) Get(workerID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[workerID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Contains reports whether workerID currently has a live session — the
// Watchdog's "is there a live session" check.
func (r *Registry) Contains(workerID string) bool {
	_, ok := r.Get(workerID)
	return ok
}

// PickIdle returns the first (insertion-ordered) idle, executable entry
// whose owner is not excludeOwner, so a submitter can never be paired with
// a worker they own. It returns (Entry{}, false) if none qualify.
func (r *Registry) PickIdle(excludeOwner string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		e, ok := r.entries[id]
		if !ok || e.Status != gridtypes.WorkerIdle || !e.Caps.Executable() {
			continue
		}
		if excludeOwner != "" && e.OwnerID == excludeOwner {
			continue
		}
		return *e, true
	}
	return Entry{}, false
}

// Len reports the number of live sessions, used by /status.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CountByStatus reports how many live entries are in the given status.
func (r *Registry) CountByStatus(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}
