// Package report serves the read-side summary views from a cache that the
// importer marks stale whenever it writes.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/logger"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
)

// State is where a Cache is in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source is the part of the store the views read.
type Source interface {
	SubjectSummaries(ctx context.Context) ([]store.SubjectSummary, error)
	IssueCounts(ctx context.Context) ([]store.IssueCount, error)
}

// Snapshot is one consistent load of every view.
type Snapshot struct {
	Subjects []store.SubjectSummary
	Issues   []store.IssueCount
	LoadedAt time.Time
}

// Cache holds the latest Snapshot. It starts empty, moves to loading on the
// first read, to ready once loaded, and to stale when MarkStale is called.
// A read of a stale or empty cache reloads it; concurrent reads share one
// load.
type Cache struct {
	src   Source
	log   *logger.Logger
	group singleflight.Group
	now   func() time.Time

	mu    sync.Mutex
	state State
	// before is the state to return to if the running load fails
	before State
	// dirty is set when MarkStale is called during a load
	dirty bool
	snap  Snapshot
}

func NewCache(src Source, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{src: src, log: log, now: time.Now}
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkStale invalidates a ready snapshot. An empty cache stays empty; a
// load in progress finishes as stale.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		c.state = StateStale
	case StateLoading:
		c.dirty = true
	}
}

// Get returns the cached snapshot, loading it first unless it is ready.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.state == StateReady {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh reloads the snapshot whatever the current state.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	v, err, _ := c.group.Do("snapshot", func() (interface{}, error) {
		return c.load(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) load(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	c.before = c.state
	c.state = StateLoading
	c.dirty = false
	c.mu.Unlock()

	snap, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = c.before
		c.log.Warn("Report load failed", "state", c.state.String(), "error", err)
		return Snapshot{}, err
	}
	c.snap = snap
	if c.dirty {
		c.state = StateStale
	} else {
		c.state = StateReady
	}
	c.log.Debug("Report loaded", "subjects", len(snap.Subjects), "issue_codes", len(snap.Issues))
	return snap, nil
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	subjects, err := c.src.SubjectSummaries(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("subject summaries: %w", err)
	}
	issues, err := c.src.IssueCounts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("issue counts: %w", err)
	}
	return Snapshot{Subjects: subjects, Issues: issues, LoadedAt: c.now()}, nil
}
