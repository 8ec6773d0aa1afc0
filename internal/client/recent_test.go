package client

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holo/internal/api"
)

func TestRecentJobsPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recent.json")
	recent := NewRecentJobs(path, nil)
	require.NoError(t, recent.Store(api.JobView{ID: "a", Status: "queued", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, recent.Store(api.JobView{ID: "a", Status: "done", CreatedAt: "2026-01-01T00:00:00Z"}))

	reopened := NewRecentJobs(path, nil)
	entry, ok := reopened.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "done", entry.View.Status)
}

func TestRecentJobsTrimsOldest(t *testing.T) {
	recent := NewRecentJobs(filepath.Join(t.TempDir(), "recent.json"), nil)
	recent.limit = 3
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, recent.Store(api.JobView{
			ID:        fmt.Sprintf("job-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}))
	}

	list := recent.List()
	require.Len(t, list, 3)
	assert.Equal(t, "job-4", list[0].View.ID)
	assert.Equal(t, "job-2", list[2].View.ID)
	_, ok := recent.Lookup("job-0")
	assert.False(t, ok)
}

func TestRecentJobsEmptyPathIsNoop(t *testing.T) {
	recent := NewRecentJobs("", nil)
	require.NoError(t, recent.Store(api.JobView{ID: "a"}))
	_, ok := recent.Lookup("a")
	assert.False(t, ok)

	var missing *RecentJobs
	_, ok = missing.Lookup("a")
	assert.False(t, ok)
}
