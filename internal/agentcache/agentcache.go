// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agentcache implements the DC agent's local Policy Cache and
// Session Cache: a single BadgerDB file journaling cached_policies,
// cached_sessions, and cache_metadata under their own key prefixes
// (cached_policies:/cached_sessions:/cache_metadata:). Writes are
// fire-and-forget from the caller's perspective: persistence failures are
// logged and the in-memory decision path continues regardless.
package agentcache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/guardctl/guardctl/internal/models"
)

const (
	prefixPolicy   = "cached_policies:"
	prefixSession  = "cached_sessions:"
	prefixMetadata = "cache_metadata:"

	// MetadataKeyLastSync is the high-watermark persisted after each
	// successful Policy Stream sync round.
	MetadataKeyLastSync = "last_sync"
)

// ErrClosed is returned by any operation after Close.
var ErrClosed = errors.New("agentcache: closed")

// cachedPolicy mirrors the cached_policies table.
type cachedPolicy struct {
	PolicyID     string `json:"policy_id"`
	Name         string `json:"name"`
	JSON         string `json:"json"`
	FailoverMode string `json:"failover_mode"`
	Priority     int    `json:"priority"`
	Enabled      bool   `json:"enabled"`
	UpdatedAt    int64  `json:"updated_at"`
}

// cachedSession mirrors the cached_sessions table. AppliedAt is the
// originating event's timestamp (local creation time, or the gossiped
// SessionEvent's timestamp), kept so a later-arriving but older inbound
// event can be detected and ignored instead of clobbering fresher state.
type cachedSession struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	SourceIP       string `json:"source_ip"`
	ExpiresAt      int64  `json:"expires_at"`
	VerifiedMethod string `json:"verified_method"`
	Revoked        bool   `json:"revoked"`
	AppliedAt      int64  `json:"applied_at"`
}

// Cache is the agent's single-writer, lock-free-read local store.
type Cache struct {
	db *badger.DB

	// Single-writer discipline: all mutating operations serialize through
	// writeMu. Reads go straight to BadgerDB's own MVCC snapshot.
	writeMu sync.Mutex
	closed  bool
	mu      sync.RWMutex
}

// Open opens (or creates) a BadgerDB file at path for the agent cache.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("agentcache: open badger: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying BadgerDB handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Cache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// UpsertPolicy inserts or replaces a cached policy by id.
func (c *Cache) UpsertPolicy(p models.Policy) error {
	if c.isClosed() {
		return ErrClosed
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("agentcache: marshal policy: %w", err)
	}
	cp := cachedPolicy{
		PolicyID: p.ID, Name: p.Name, JSON: string(raw),
		FailoverMode: string(p.FailoverMode), Priority: p.Priority,
		Enabled: p.Enabled, UpdatedAt: p.Updated.UnixMilli(),
	}
	val, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("agentcache: marshal entry: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixPolicy+p.ID), val)
	})
}

// EvictPolicy removes a cached policy by id (handles deleted=true Policy
// Stream events).
func (c *Cache) EvictPolicy(policyID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(prefixPolicy + policyID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// EnabledPolicies returns every cached policy with Enabled=true, the
// projection the agent's local decision path consults.
func (c *Cache) EnabledPolicies() ([]models.Policy, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	var out []models.Policy
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixPolicy)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp cachedPolicy
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return fmt.Errorf("agentcache: unmarshal policy entry: %w", err)
			}
			if !cp.Enabled {
				continue
			}
			var p models.Policy
			if err := json.Unmarshal([]byte(cp.JSON), &p); err != nil {
				return fmt.Errorf("agentcache: unmarshal policy json: %w", err)
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// UpsertSession unconditionally inserts or replaces a cached session. It is
// for this agent's own locally authoritative writes (a session it just
// created or resolved itself); inbound replicated events must go through
// UpsertSessionIfNewer instead so a reordered or retried gossip send can
// never clobber fresher cached state. userName is carried separately
// because models.Session itself stores only the resolved UserID; the
// agent's local lookup path matches incoming requests by the presented
// username, which only the central store's User rows resolve.
func (c *Cache) UpsertSession(s models.Session, userName string, eventTimestamp time.Time) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.writeSession(s, userName, eventTimestamp)
}

// UpsertSessionIfNewer applies a replicated SessionEvent under
// last-writer-wins: the event is discarded (applied=false) if a
// previously-applied event for the same session id carries a later
// timestamp, per spec.md's convergence invariant. Equal timestamps
// are treated as a tie and applied, since a tie can only occur for the
// same session id and the result is therefore identical either way.
func (c *Cache) UpsertSessionIfNewer(s models.Session, userName string, eventTimestamp time.Time) (applied bool, err error) {
	if c.isClosed() {
		return false, ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err = c.db.Update(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(prefixSession + s.ID))
		if getErr != nil && !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		if getErr == nil {
			var existing cachedSession
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return err
			}
			if eventTimestamp.UnixNano() < existing.AppliedAt {
				applied = false
				return nil
			}
		}
		applied = true
		return c.setSession(txn, s, userName, eventTimestamp)
	})
	return applied, err
}

func (c *Cache) writeSession(s models.Session, userName string, eventTimestamp time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		return c.setSession(txn, s, userName, eventTimestamp)
	})
}

func (c *Cache) setSession(txn *badger.Txn, s models.Session, userName string, eventTimestamp time.Time) error {
	cs := cachedSession{
		SessionID: s.ID, UserID: s.UserID, UserName: userName, SourceIP: s.SourceIP,
		ExpiresAt: s.Expires.UnixMilli(), VerifiedMethod: s.VerifiedMethod,
		Revoked: s.Status == models.SessionRevoked, AppliedAt: eventTimestamp.UnixNano(),
	}
	val, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("agentcache: marshal session: %w", err)
	}
	return txn.Set([]byte(prefixSession+s.ID), val)
}

// RevokeSession marks a cached session revoked in place. A missing entry
// is not an error: gossip events may arrive for sessions this agent never
// cached locally.
func (c *Cache) RevokeSession(sessionID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSession + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var cs cachedSession
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cs) }); err != nil {
			return err
		}
		cs.Revoked = true
		val, err := json.Marshal(cs)
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefixSession+sessionID), val)
	})
}

// FindActiveSession does a case-insensitive match on userName, and on
// sourceIP when non-empty, returning a session with Expires > now and
// Revoked == false.
func (c *Cache) FindActiveSession(userName, sourceIP string, now time.Time) (*models.Session, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	var found *cachedSession
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixSession)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cs cachedSession
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &cs) }); err != nil {
				return err
			}
			if cs.Revoked {
				continue
			}
			if cs.ExpiresAt <= now.UnixMilli() {
				continue
			}
			if !strings.EqualFold(cs.UserName, userName) {
				continue
			}
			if sourceIP != "" && cs.SourceIP != sourceIP {
				continue
			}
			found = &cs
			return nil
		}
		return nil
	})
	if err != nil || found == nil {
		return nil, err
	}
	return &models.Session{
		ID: found.SessionID, UserID: found.UserID, SourceIP: found.SourceIP,
		VerifiedMethod: found.VerifiedMethod, Status: models.SessionActive,
		Expires: time.UnixMilli(found.ExpiresAt),
	}, nil
}

// CleanupExpired deletes cached sessions that are expired or revoked.
func (c *Cache) CleanupExpired(now time.Time) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixSession)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cs cachedSession
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &cs) }); err != nil {
				return err
			}
			if cs.Revoked || cs.ExpiresAt <= now.UnixMilli() {
				keys = append(keys, append([]byte(nil), it.Item().KeyCopy(nil)...))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err = c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	return len(keys), err
}

// SetMetadata persists a cache_metadata key/value pair, such as the
// Policy Stream high-watermark.
func (c *Cache) SetMetadata(key, value string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixMetadata+key), []byte(value))
	})
}

// GetMetadata reads a cache_metadata value, returning "" if absent.
func (c *Cache) GetMetadata(key string) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	var value string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMetadata + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}
