// Package store is the coordinator's durable, transactional key/row store.
// It is backed by gitlab.com/NebulousLabs/bolt, an embedded key/value
// engine whose serialized-writer transactions give every operation here
// all-or-nothing, rollback-on-error semantics without a separate
// transaction-manager abstraction on top.
package store

import (
	"os"
	"path/filepath"
	"time"

	"gitlab.com/NebulousLabs/bolt"
	"gitlab.com/NebulousLabs/errors"

	"github.com/gridx-labs/coordinator/internal/persist"
)

// Bucket names. jobs_by_user and running_by_worker are maintained as
// secondary indexes alongside the primary row buckets, updated in the same
// transaction as the row they index so they can never drift.
const (
	bucketJobs            = "jobs"
	bucketJobsByUser      = "jobs_by_user"
	bucketRunningByWorker = "running_by_worker"
	bucketWorkers         = "workers"
	bucketCredits         = "user_credits"
	bucketAuth            = "user_auth"
	bucketMeta            = "meta"
)

var allBuckets = []string{
	bucketJobs,
	bucketJobsByUser,
	bucketRunningByWorker,
	bucketWorkers,
	bucketCredits,
	bucketAuth,
	bucketMeta,
}

// schemaVersion is bumped whenever a migration adds a bucket or key; it is
// never used to drop or rename anything, since migrations here are
// additive only.
const schemaVersion = "1"

// Store is the coordinator's durable store. All exported methods are safe
// for concurrent use; bolt serializes writers internally and allows
// unlimited concurrent readers.
type Store struct {
	db  *bolt.DB
	log *persist.Logger
}

// Open creates the database file (and its parent directory) if necessary,
// applies the schema, and returns a ready Store.
func Open(path string, log *persist.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.AddContext(err, "unable to create database directory")
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.AddContext(err, "unable to open database")
	}
	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.AddContext(err, "unable to initialize schema")
	}
	return s, nil
}

// Close flushes and closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates every bucket the coordinator needs. It is idempotent:
// CreateBucketIfNotExists is a no-op on a bucket that already exists, so
// running this against an existing database only ever adds what's missing.
func (s *Store) initSchema() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.AddContext(err, "creating bucket "+name)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(schemaVersion)); err != nil {
				return err
			}
			s.logf("database schema initialized at version %s", schemaVersion)
		}
		return nil
	})
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}

// now returns the current time as float seconds since epoch, the
// timestamp convention used throughout the Store and Credit Engine.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
