// Package cache provides the bounded, concurrency-safe Snapshot and
// Recording caches named in §5's resource ceilings (cap 50 and cap 20
// respectively). The HTTP endpoints that populate these caches are out of
// scope for the core, but the eviction behavior is a resource-model
// invariant the core upholds, so the data structure lives here and is
// exposed for external collaborators to use.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Snapshot is a single captured page snapshot (e.g. a screenshot or DOM
// dump) keyed by an opaque id.
type Snapshot struct {
	ID        string
	WindowID  string
	Data      []byte
	MediaType string
}

// Recording is a single captured session recording keyed by an opaque id.
type Recording struct {
	ID       string
	WindowID string
	Data     []byte
}

// SnapshotCache is an LRU cache of Snapshots, capped at §5's ceiling (50).
type SnapshotCache struct {
	lru *lru.Cache[string, *Snapshot]
}

// NewSnapshotCache creates a SnapshotCache with the given capacity.
func NewSnapshotCache(capacity int) (*SnapshotCache, error) {
	c, err := lru.New[string, *Snapshot](capacity)
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{lru: c}, nil
}

func (c *SnapshotCache) Put(s *Snapshot)                  { c.lru.Add(s.ID, s) }
func (c *SnapshotCache) Get(id string) (*Snapshot, bool)   { return c.lru.Get(id) }
func (c *SnapshotCache) Remove(id string)                  { c.lru.Remove(id) }
func (c *SnapshotCache) Len() int                          { return c.lru.Len() }

// RecordingCache is an LRU cache of Recordings, capped at §5's ceiling (20).
type RecordingCache struct {
	lru *lru.Cache[string, *Recording]
}

// NewRecordingCache creates a RecordingCache with the given capacity.
func NewRecordingCache(capacity int) (*RecordingCache, error) {
	c, err := lru.New[string, *Recording](capacity)
	if err != nil {
		return nil, err
	}
	return &RecordingCache{lru: c}, nil
}

func (c *RecordingCache) Put(r *Recording)                { c.lru.Add(r.ID, r) }
func (c *RecordingCache) Get(id string) (*Recording, bool) { return c.lru.Get(id) }
func (c *RecordingCache) Remove(id string)                 { c.lru.Remove(id) }
func (c *RecordingCache) Len() int                         { return c.lru.Len() }
