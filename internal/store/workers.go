package store

import (
	"gitlab.com/NebulousLabs/bolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// UpsertWorker inserts a new worker row or refreshes an existing one. On
// update it preserves RegisteredAt and only overwrites AuthTokenHash when a
// non-empty hash is supplied, so re-registration (e.g. after a reconnect)
// does not force a fresh credential.
func (s *Store) UpsertWorker(id, ip string, caps gridtypes.Caps, ownerID, authTokenHash string) (*gridtypes.Worker, error) {
	var w gridtypes.Worker
	err := s.db.Update(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		if data := workers.Get([]byte(id)); data != nil {
			row, err := decodeWorker(data)
			if err != nil {
				return err
			}
			w = *row
		} else {
			w = gridtypes.Worker{
				ID:           id,
				RegisteredAt: now(),
			}
		}
		w.IP = ip
		w.Caps = caps
		w.OwnerID = ownerID
		w.Status = gridtypes.WorkerIdle
		w.LastHeartbeat = now()
		if authTokenHash != "" {
			w.AuthTokenHash = authTokenHash
		}
		data, err := encodeWorker(&w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorker reads a single worker row. It returns (nil, nil) if no such
// worker is registered.
func (s *Store) GetWorker(id string) (*gridtypes.Worker, error) {
	var w *gridtypes.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketWorkers)).Get([]byte(id))
		if data == nil {
			return nil
		}
		row, err := decodeWorker(data)
		if err != nil {
			return err
		}
		w = row
		return nil
	})
	return w, err
}

// ListWorkers returns every registered worker.
func (s *Store) ListWorkers() ([]*gridtypes.Worker, error) {
	var workers []*gridtypes.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWorkers)).ForEach(func(_, v []byte) error {
			w, err := decodeWorker(v)
			if err != nil {
				return err
			}
			workers = append(workers, w)
			return nil
		})
	})
	return workers, err
}

// SetWorkerStatus flips a worker between idle and busy without touching any
// other field.
func (s *Store) SetWorkerStatus(id, status string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		data := workers.Get([]byte(id))
		if data == nil {
			return nil
		}
		w, err := decodeWorker(data)
		if err != nil {
			return err
		}
		w.Status = status
		nd, err := encodeWorker(w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(id), nd)
	})
}

// SetWorkerOffline marks a worker offline on channel teardown.
func (s *Store) SetWorkerOffline(id string) error {
	return s.SetWorkerStatus(id, gridtypes.WorkerOffline)
}

// UpdateHeartbeat refreshes last-heartbeat for the liveness check the
// Watchdog performs.
func (s *Store) UpdateHeartbeat(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		data := workers.Get([]byte(id))
		if data == nil {
			return nil
		}
		w, err := decodeWorker(data)
		if err != nil {
			return err
		}
		w.LastHeartbeat = now()
		nd, err := encodeWorker(w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(id), nd)
	})
}

// AddWorkerEarnings bumps a worker row's lifetime credits-earned counter
// after a settlement reward lands.
func (s *Store) AddWorkerEarnings(id string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		data := workers.Get([]byte(id))
		if data == nil {
			return nil
		}
		w, err := decodeWorker(data)
		if err != nil {
			return err
		}
		w.CreditsEarned += amount
		nd, err := encodeWorker(w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(id), nd)
	})
}

// FindWorkerByOwnerToken scans registered workers for one owned by ownerID
// whose stored hash matches token, implementing the hello-time "reuse an
// existing worker-id on reconnect" rule. The worker fleet behind one
// coordinator is expected to stay small enough that a linear scan here is
// preferable to a second keyed index solely for login.
func (s *Store) FindWorkerByOwnerToken(ownerID, token string) (*gridtypes.Worker, bool, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, false, err
	}
	for _, w := range workers {
		if w.OwnerID != ownerID || w.AuthTokenHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(w.AuthTokenHash), []byte(token)) == nil {
			return w, true, nil
		}
	}
	return nil, false, nil
}

// HashWorkerToken hashes a worker auth token the same way user tokens are
// hashed (internal/store/auth.go), so both credential kinds share one
// verification primitive.
func HashWorkerToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
