// Package presence holds the campus presence table: one record per logical user,
// bound to the transport connection that most recently joined under that user's key.
package presence

import (
	"sync"
	"time"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Attributes are the client-supplied display attributes, replaced wholesale on join.
type Attributes struct {
	DisplayName string
	AvatarID    string
}

type Record struct {
	UserKey        string
	DisplayName    string
	AvatarID       string
	Position       Position
	Speaking       bool
	ConnID         string
	LastActivityAt time.Time
}

// View is the broadcast form of a record.
type View struct {
	DisplayName string   `json:"playerName"`
	AvatarID    string   `json:"avatarID"`
	Position    Position `json:"position"`
	Speaking    bool     `json:"speaking"`
}

// Snapshot is a point-in-time copy of the table keyed by user key.
type Snapshot map[string]View

type Option func(*Table)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// Table is safe for concurrent use. byConn is a secondary index kept consistent with
// records under the same lock: every record's ConnID maps back to its user key.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record // userKey -> record
	byConn  map[string]string  // connID -> userKey
	now     func() time.Time
}

func NewTable(opts ...Option) *Table {
	t := &Table{
		records: make(map[string]*Record),
		byConn:  make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Upsert creates or fully replaces the record for userKey and binds it to connID.
// A previous connection bound to userKey is unbound, and a different record previously
// bound to connID is dropped so a connection never owns two records.
func (t *Table) Upsert(userKey string, attrs Attributes, connID string, pos Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.records[userKey]; ok {
		delete(t.byConn, old.ConnID)
	}
	if prevKey, ok := t.byConn[connID]; ok && prevKey != userKey {
		delete(t.records, prevKey)
	}

	t.records[userKey] = &Record{
		UserKey:        userKey,
		DisplayName:    attrs.DisplayName,
		AvatarID:       attrs.AvatarID,
		Position:       pos,
		ConnID:         connID,
		LastActivityAt: t.now(),
	}
	t.byConn[connID] = userKey
}

func (t *Table) UpdatePosition(userKey string, pos Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userKey]
	if !ok {
		return false
	}
	rec.Position = pos
	rec.LastActivityAt = t.now()
	return true
}

func (t *Table) UpdateSpeaking(userKey string, speaking bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userKey]
	if !ok {
		return false
	}
	rec.Speaking = speaking
	rec.LastActivityAt = t.now()
	return true
}

// Remove deletes the record for userKey regardless of which connection it is bound to.
func (t *Table) Remove(userKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(userKey)
}

// RemoveIfBound deletes the record for userKey only while it is bound to connID.
func (t *Table) RemoveIfBound(userKey, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userKey]
	if !ok || rec.ConnID != connID {
		return false
	}
	return t.removeLocked(userKey)
}

// RemoveByConnection deletes the record currently bound to connID, if any.
// A superseded connection is no longer indexed, so its disconnect is a no-op.
func (t *Table) RemoveByConnection(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userKey, ok := t.byConn[connID]
	if !ok {
		return "", false
	}
	t.removeLocked(userKey)
	return userKey, true
}

// Reap removes every record whose last activity is older than timeout and returns their keys.
func (t *Table) Reap(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-timeout)
	var removed []string
	for key, rec := range t.records {
		if rec.LastActivityAt.Before(cutoff) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		t.removeLocked(key)
	}
	return removed
}

func (t *Table) removeLocked(userKey string) bool {
	rec, ok := t.records[userKey]
	if !ok {
		return false
	}
	delete(t.byConn, rec.ConnID)
	delete(t.records, userKey)
	return true
}

// Lookup returns a copy of the record for userKey.
func (t *Table) Lookup(userKey string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[userKey]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// BoundKey returns the user key connID is currently bound to.
func (t *Table) BoundKey(connID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userKey, ok := t.byConn[connID]
	return userKey, ok
}

// ConnID returns the connection currently bound to userKey.
func (t *Table) ConnID(userKey string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[userKey]
	if !ok {
		return "", false
	}
	return rec.ConnID, true
}

// Owns reports whether userKey is present and bound to connID.
func (t *Table) Owns(userKey, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[userKey]
	return ok && rec.ConnID == connID
}

func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(Snapshot, len(t.records))
	for key, rec := range t.records {
		snap[key] = View{
			DisplayName: rec.DisplayName,
			AvatarID:    rec.AvatarID,
			Position:    rec.Position,
			Speaking:    rec.Speaking,
		}
	}
	return snap
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
