// Package store provides the bbolt-backed persistence spec.md 4.5/4.4
// requires across runs: RRDP session state, a repository-table
// checkpoint, and a last-known-good output cache per repository.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/rpki-client/pkg/rrdp"
)

var (
	bucketSessions   = []byte("rrdp_sessions")
	bucketRepos      = []byte("repo_checkpoint")
	bucketOutputs    = []byte("output_cache")
	allBucketsInited = [][]byte{bucketSessions, bucketRepos, bucketOutputs}
)

// Store is a bbolt-backed persistence layer. The zero value is not
// usable; construct with Open.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database under dataDir
// and ensures all buckets this package uses exist.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "rpki-client.db")

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBucketsInited {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(repoID uint64) []byte {
	return []byte(fmt.Sprintf("%d", repoID))
}

// LoadSession implements rrdp.SessionStore.
func (s *Store) LoadSession(repoID uint64) (rrdp.Session, bool, error) {
	var sess rrdp.Session
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get(sessionKey(repoID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return rrdp.Session{}, false, fmt.Errorf("store: load session %d: %w", repoID, err)
	}
	return sess, found, nil
}

// SaveSession implements rrdp.SessionStore.
func (s *Store) SaveSession(repoID uint64, sess rrdp.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: marshal session %d: %w", repoID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put(sessionKey(repoID), data)
	})
}

// RepoCheckpoint is the subset of pkg/fetch.Repo state worth
// persisting across runs: enough to resume without re-lookup, not the
// in-memory mutex/deferred-entity bookkeeping.
type RepoCheckpoint struct {
	ID        uint64
	RsyncURI  string
	NotifyURI string
	LocalDir  string
	State     string
	Protocol  string
}

// SaveRepoCheckpoints atomically replaces the persisted repository
// table snapshot with checkpoints.
func (s *Store) SaveRepoCheckpoints(checkpoints []RepoCheckpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Clear existing entries before writing the new snapshot.
		if err := tx.DeleteBucket(bucketRepos); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("store: clear repo checkpoints: %w", err)
		}
		fresh, err := tx.CreateBucket(bucketRepos)
		if err != nil {
			return fmt.Errorf("store: recreate repo checkpoint bucket: %w", err)
		}

		for _, c := range checkpoints {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("store: marshal checkpoint %d: %w", c.ID, err)
			}
			if err := fresh.Put(sessionKey(c.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadRepoCheckpoints returns every persisted repository checkpoint.
func (s *Store) LoadRepoCheckpoints() ([]RepoCheckpoint, error) {
	var out []RepoCheckpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).ForEach(func(_, v []byte) error {
			var c RepoCheckpoint
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load repo checkpoints: %w", err)
	}
	return out, nil
}

// SaveOutput caches the last-known-good bytes produced for key (for
// example a repository's rsync URI), so a later run that finds that
// repository FAILed can still serve stale-but-available content.
func (s *Store) SaveOutput(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputs).Put([]byte(key), data)
	})
}

// LoadOutput returns the cached bytes for key, if any.
func (s *Store) LoadOutput(key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOutputs).Get([]byte(key))
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: load output %s: %w", key, err)
	}
	return data, data != nil, nil
}
