// Package lock provides per-campaign exclusive leases backed by BoltDB.
// At most one execution loop holds a campaign's lease at any time; holders
// refresh it periodically and a recovery pass reclaims leases left behind by
// dead processes.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/tealmail/drip/internal/errs"
)

var bucketLocks = []byte("campaign_locks")

// ErrAlreadyLocked is returned when another holder owns a live lease.
// Callers surface it as a conflict ("already running"), not a failure.
var ErrAlreadyLocked = errs.New(errs.KindConflict, "campaign is already locked")

// ErrNotHeld is returned by Refresh when the lease is gone or owned by
// someone else, which means this holder lost it and must stop
var ErrNotHeld = errs.New(errs.KindConflict, "lock not held")

// Lock is the persisted lease record
type Lock struct {
	CampaignID  string    `json:"campaign_id"`
	HolderToken string    `json:"holder_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Manager acquires, refreshes and releases campaign leases
type Manager struct {
	db *bolt.DB
}

// NewManager creates a lock manager over an existing Bolt database
func NewManager(db *bolt.DB) (*Manager, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLocks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create locks bucket: %w", err)
	}
	return &Manager{db: db}, nil
}

// Open opens (creating if needed) a Bolt database at path and returns a
// manager over it. The caller owns closing the returned database.
func Open(path string) (*Manager, *bolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create lock store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open lock store: %w", err)
	}

	m, err := NewManager(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, db, nil
}

// Acquire takes the lease for a campaign if no live lease exists. The write
// happens inside a single Bolt transaction, so two concurrent acquires cannot
// both succeed: exactly one wins, the other gets ErrAlreadyLocked. An expired
// lease counts as free and is taken over.
func (m *Manager) Acquire(campaignID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		if data := bucket.Get([]byte(campaignID)); data != nil {
			var existing Lock
			if err := json.Unmarshal(data, &existing); err == nil && existing.ExpiresAt.After(time.Now()) {
				return ErrAlreadyLocked
			}
			// expired or corrupt: treat as free
		}

		l := Lock{
			CampaignID:  campaignID,
			HolderToken: token,
			ExpiresAt:   time.Now().Add(ttl),
		}
		data, err := json.Marshal(&l)
		if err != nil {
			return fmt.Errorf("failed to marshal lock: %w", err)
		}
		return bucket.Put([]byte(campaignID), data)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Refresh extends the lease expiry. Fails with ErrNotHeld when the lease no
// longer belongs to token, which tells a long-running holder it has been
// reclaimed and must abandon its work.
func (m *Manager) Refresh(campaignID, token string, ttl time.Duration) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		data := bucket.Get([]byte(campaignID))
		if data == nil {
			return ErrNotHeld
		}

		var l Lock
		if err := json.Unmarshal(data, &l); err != nil {
			return ErrNotHeld
		}
		if l.HolderToken != token {
			return ErrNotHeld
		}

		l.ExpiresAt = time.Now().Add(ttl)
		updated, err := json.Marshal(&l)
		if err != nil {
			return fmt.Errorf("failed to marshal lock: %w", err)
		}
		return bucket.Put([]byte(campaignID), updated)
	})
}

// Release deletes the lease if token still owns it. Idempotent: releasing a
// lease that expired or was reclaimed is a no-op.
func (m *Manager) Release(campaignID, token string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		data := bucket.Get([]byte(campaignID))
		if data == nil {
			return nil
		}

		var l Lock
		if err := json.Unmarshal(data, &l); err != nil {
			return bucket.Delete([]byte(campaignID))
		}
		if l.HolderToken != token {
			return nil
		}
		return bucket.Delete([]byte(campaignID))
	})
}

// Get returns the current lease for a campaign, nil when free
func (m *Manager) Get(campaignID string) (*Lock, error) {
	var l *Lock
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(campaignID))
		if data == nil {
			return nil
		}
		l = &Lock{}
		return json.Unmarshal(data, l)
	})
	return l, err
}

// CleanupStale deletes locks whose expiry is more than threshold in the past
// and returns how many were removed. Only the explicit recovery path calls
// this: forcing out a lease that might still have a live holder risks a
// double-running campaign, so it never happens automatically.
func (m *Manager) CleanupStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	removed := 0

	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		c := bucket.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var l Lock
			if err := json.Unmarshal(v, &l); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if l.ExpiresAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
