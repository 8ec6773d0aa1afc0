package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"holo/internal/api"
	"holo/internal/fileutil"
	"holo/internal/logging"
)

// DefaultRecentLimit caps the number of cached jobs.
const DefaultRecentLimit = 50

// Entry is a cached job view with the time the client last saw it.
type Entry struct {
	View   api.JobView `json:"view"`
	SeenAt time.Time   `json:"seen_at"`
}

// Snapshot is a job view and whether it came from the cache.
type Snapshot struct {
	api.JobView
	Stale  bool
	SeenAt time.Time
}

// RecentJobs is a file-backed cache of recently seen job views. Server
// responses always overwrite it; it is only read when holod is unreachable.
type RecentJobs struct {
	path    string
	limit   int
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRecentJobs opens the cache at path. An empty path yields a cache that
// stores nothing.
func NewRecentJobs(path string, logger *slog.Logger) *RecentJobs {
	logger = logging.NewComponentLogger(logger, "recent-jobs")
	r := &RecentJobs{
		path:    strings.TrimSpace(path),
		limit:   DefaultRecentLimit,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	if r.path == "" {
		return r
	}
	if err := r.load(); err != nil {
		logger.Warn("failed to load recent jobs cache",
			logging.Event("recent_jobs_load_failed"),
			logging.Error(err),
			logging.Hint("delete "+r.path+" if it is corrupt"),
			logging.Impact("offline job listings start empty"))
	}
	return r
}

// Store records views, replacing older copies, and persists the cache.
func (r *RecentJobs) Store(views ...api.JobView) error {
	if r == nil || r.path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, view := range views {
		if strings.TrimSpace(view.ID) == "" {
			continue
		}
		r.entries[view.ID] = Entry{View: view, SeenAt: now}
	}
	r.trim()
	if err := r.save(); err != nil {
		return fmt.Errorf("persist recent jobs: %w", err)
	}
	return nil
}

// Lookup returns the cached view of id.
func (r *RecentJobs) Lookup(id string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[strings.TrimSpace(id)]
	return entry, ok
}

// List returns cached entries, most recently created job first.
func (r *RecentJobs) List() []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

func (r *RecentJobs) sorted() []Entry {
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		ti := api.ParseTime(entries[i].View.CreatedAt)
		tj := api.ParseTime(entries[j].View.CreatedAt)
		if ti.Equal(tj) {
			return entries[i].View.ID > entries[j].View.ID
		}
		return ti.After(tj)
	})
	return entries
}

func (r *RecentJobs) trim() {
	if r.limit <= 0 || len(r.entries) <= r.limit {
		return
	}
	for _, entry := range r.sorted()[r.limit:] {
		delete(r.entries, entry.View.ID)
	}
}

func (r *RecentJobs) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.View.ID) != "" {
			r.entries[entry.View.ID] = entry
		}
	}
	return nil
}

func (r *RecentJobs) save() error {
	data, err := json.MarshalIndent(r.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if _, err := fileutil.WriteAtomic(r.path, bytes.NewReader(data), 0o644); err != nil {
		return err
	}
	return nil
}

// LookupJob returns the server's view of id, or the cached view flagged stale
// when holod is unreachable.
func (c *Client) LookupJob(ctx context.Context, id string) (Snapshot, error) {
	view, err := c.GetJob(ctx, id)
	if err == nil {
		return Snapshot{JobView: view}, nil
	}
	if IsUnreachable(err) {
		if entry, ok := c.recent.Lookup(id); ok {
			return Snapshot{JobView: entry.View, Stale: true, SeenAt: entry.SeenAt}, nil
		}
	}
	return Snapshot{}, err
}

// ListRecent lists jobs from the server, falling back to the cache flagged
// stale when holod is unreachable.
func (c *Client) ListRecent(ctx context.Context, opts ListOptions) ([]Snapshot, error) {
	views, err := c.ListJobs(ctx, opts)
	if err == nil {
		out := make([]Snapshot, 0, len(views))
		for _, view := range views {
			out = append(out, Snapshot{JobView: view})
		}
		return out, nil
	}
	if !IsUnreachable(err) || c.recent == nil {
		return nil, err
	}
	var out []Snapshot
	for _, entry := range c.recent.List() {
		if opts.Status != "" && entry.View.Status != string(opts.Status) {
			continue
		}
		out = append(out, Snapshot{JobView: entry.View, Stale: true, SeenAt: entry.SeenAt})
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}
