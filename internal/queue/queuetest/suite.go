// Package queuetest holds the behavioural contract every queue.Store backend
// must satisfy. Backend packages call Run from their own tests.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"holo/internal/queue"
	"holo/internal/services"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) queue.Store

// Run executes the store contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, queue.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"ListQueuedFIFO", testListQueuedFIFO},
		{"ListJobsOrderAndFilter", testListJobsOrderAndFilter},
		{"ProgressMonotonic", testProgressMonotonic},
		{"TerminalImmutable", testTerminalImmutable},
		{"TerminalInvariants", testTerminalInvariants},
		{"ClaimNext", testClaimNext},
		{"ConcurrentClaims", testConcurrentClaims},
		{"LeaseRenewAndReclaim", testLeaseRenewAndReclaim},
		{"StaleOwnerFenced", testStaleOwnerFenced},
		{"Stats", testStats},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func newJob(t *testing.T, ctx context.Context, store queue.Store) *queue.Job {
	t.Helper()
	id := uuid.NewString()
	job := &queue.Job{
		ID:       id,
		InputKey: fmt.Sprintf("jobs/%s/input.png", id),
		SpecJSON: `{"version":"0.1.0"}`,
	}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	// Orderings are millisecond based; keep creations distinct.
	time.Sleep(2 * time.Millisecond)
	return job
}

func mustGet(t *testing.T, ctx context.Context, store queue.Store, id string) *queue.Job {
	t.Helper()
	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", id, err)
	}
	return job
}

func testCreateAndGet(t *testing.T, store queue.Store) {
	ctx := context.Background()
	created := newJob(t, ctx, store)

	got := mustGet(t, ctx, store, created.ID)
	if got.Status != queue.StatusQueued || got.Progress != 0 {
		t.Fatalf("new job should be queued with zero progress, got %s %.2f", got.Status, got.Progress)
	}
	if got.InputKey != created.InputKey || got.SpecJSON != created.SpecJSON {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	dup := &queue.Job{ID: created.ID, InputKey: "x", SpecJSON: "{}"}
	if err := store.CreateJob(ctx, dup); !errors.Is(err, queue.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected services.ErrNotFound marker, got %v", err)
	}
	if _, err := store.UpdateJob(ctx, "missing", queue.ProgressPatch(0.5)); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func testListQueuedFIFO(t *testing.T, store queue.Store) {
	ctx := context.Background()
	first := newJob(t, ctx, store)
	second := newJob(t, ctx, store)
	third := newJob(t, ctx, store)

	// Touching the oldest job must not change its queue position.
	if _, err := store.UpdateJob(ctx, first.ID, queue.ProgressPatch(0.01)); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	queued, err := store.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	want := []string{first.ID, second.ID, third.ID}
	if len(queued) != len(want) {
		t.Fatalf("expected %d queued jobs, got %d", len(want), len(queued))
	}
	for i, job := range queued {
		if job.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, job.ID, want[i])
		}
	}

	limited, err := store.ListQueued(ctx, 2)
	if err != nil {
		t.Fatalf("ListQueued limit: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != first.ID {
		t.Fatalf("unexpected limited result: %d", len(limited))
	}
}

func testListJobsOrderAndFilter(t *testing.T, store queue.Store) {
	ctx := context.Background()
	a := newJob(t, ctx, store)
	b := newJob(t, ctx, store)
	c := newJob(t, ctx, store)

	if _, err := store.UpdateJob(ctx, a.ID, queue.ProgressPatch(0.2)); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	jobs, err := store.ListJobs(ctx, queue.ListOptions{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	order := []string{a.ID, c.ID, b.ID}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, job := range jobs {
		if job.ID != order[i] {
			t.Fatalf("position %d: got %s want %s", i, job.ID, order[i])
		}
	}

	claimed, err := store.ClaimNext(ctx, "w1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}
	running := queue.StatusRunning
	filtered, err := store.ListJobs(ctx, queue.ListOptions{Status: &running})
	if err != nil {
		t.Fatalf("ListJobs filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != claimed.ID {
		t.Fatalf("unexpected filtered result: %+v", filtered)
	}

	limited, err := store.ListJobs(ctx, queue.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListJobs limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func testProgressMonotonic(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := newJob(t, ctx, store)

	steps := []struct {
		patch float64
		want  float64
	}{
		{0.3, 0.3},
		{0.2, 0.3},
		{0.5, 0.5},
		{-1, 0.5},
		{1.7, 1.0},
	}
	previous := 0.0
	for _, step := range steps {
		updated, err := store.UpdateJob(ctx, job.ID, queue.ProgressPatch(step.patch))
		if err != nil {
			t.Fatalf("UpdateJob(%v): %v", step.patch, err)
		}
		if updated.Progress != step.want {
			t.Fatalf("progress after %v = %v, want %v", step.patch, updated.Progress, step.want)
		}
		if updated.Progress < previous {
			t.Fatalf("progress decreased from %v to %v", previous, updated.Progress)
		}
		previous = updated.Progress
	}

	before := mustGet(t, ctx, store, job.ID)
	time.Sleep(2 * time.Millisecond)
	after, err := store.UpdateJob(ctx, job.ID, queue.JobPatch{})
	if err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("expected updatedAt refresh on mutation: before=%v after=%v", before.UpdatedAt, after.UpdatedAt)
	}
	if after.Status != before.Status || after.Progress != before.Progress {
		t.Fatalf("empty patch changed fields: %+v", after)
	}
}

func testTerminalImmutable(t *testing.T, store queue.Store) {
	ctx := context.Background()
	done := newJob(t, ctx, store)
	failed := newJob(t, ctx, store)

	if _, err := store.UpdateJob(ctx, done.ID, queue.DonePatch("jobs/"+done.ID+"/result.glb")); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if _, err := store.UpdateJob(ctx, failed.ID, queue.FailedPatch("depth: model missing")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	for _, id := range []string{done.ID, failed.ID} {
		first := mustGet(t, ctx, store, id)
		attempts := []queue.JobPatch{
			queue.ProgressPatch(0.1),
			queue.FailedPatch("late failure"),
			queue.DonePatch("jobs/" + id + "/other.glb"),
		}
		for _, patch := range attempts {
			if _, err := store.UpdateJob(ctx, id, patch); !errors.Is(err, queue.ErrTerminal) {
				t.Fatalf("expected ErrTerminal for %s, got %v", id, err)
			}
		}
		second := mustGet(t, ctx, store, id)
		if first.Status != second.Status || first.Progress != second.Progress ||
			first.OutputKey != second.OutputKey || first.Error != second.Error ||
			!first.UpdatedAt.Equal(second.UpdatedAt) {
			t.Fatalf("terminal job mutated: %+v vs %+v", first, second)
		}
	}

	doneJob := mustGet(t, ctx, store, done.ID)
	if doneJob.Progress != 1 || doneJob.OutputKey == "" || doneJob.ClaimedBy != "" {
		t.Fatalf("unexpected done job: %+v", doneJob)
	}
	failedJob := mustGet(t, ctx, store, failed.ID)
	if failedJob.Error != "depth: model missing" {
		t.Fatalf("unexpected error message: %q", failedJob.Error)
	}
}

func testTerminalInvariants(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := newJob(t, ctx, store)

	done := queue.StatusDone
	if _, err := store.UpdateJob(ctx, job.ID, queue.JobPatch{Status: &done}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for done without output, got %v", err)
	}
	if _, err := store.UpdateJob(ctx, job.ID, queue.FailedPatch("  ")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank error message, got %v", err)
	}
	if got := mustGet(t, ctx, store, job.ID); got.Status != queue.StatusQueued {
		t.Fatalf("rejected patch changed status to %s", got.Status)
	}
}

func testClaimNext(t *testing.T, store queue.Store) {
	ctx := context.Background()
	if job, err := store.ClaimNext(ctx, "w1", time.Minute); err != nil || job != nil {
		t.Fatalf("expected nil claim on empty queue, got %v %v", job, err)
	}

	first := newJob(t, ctx, store)
	second := newJob(t, ctx, store)

	claimed, err := store.ClaimNext(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s, got %+v", first.ID, claimed)
	}
	if claimed.Status != queue.StatusRunning || claimed.ClaimedBy != "w1" || claimed.LeaseUntil == nil {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}

	next, err := store.ClaimNext(ctx, "w2", time.Minute)
	if err != nil || next == nil || next.ID != second.ID {
		t.Fatalf("expected second job for w2, got %+v %v", next, err)
	}
	if none, err := store.ClaimNext(ctx, "w3", time.Minute); err != nil || none != nil {
		t.Fatalf("expected drained queue, got %+v %v", none, err)
	}
}

func testConcurrentClaims(t *testing.T, store queue.Store) {
	ctx := context.Background()
	const jobs = 6
	for i := 0; i < jobs; i++ {
		newJob(t, ctx, store)
	}

	var (
		mu     sync.Mutex
		seen   = map[string]string{}
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)
	for w := 0; w < 4; w++ {
		worker := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, worker, time.Minute)
				if err != nil {
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[job.ID]; dup {
					errsMu.Lock()
					errs = append(errs, fmt.Errorf("job %s claimed by %s and %s", job.ID, prev, worker))
					errsMu.Unlock()
				}
				seen[job.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if len(seen) != jobs {
		t.Fatalf("expected %d distinct claims, got %d", jobs, len(seen))
	}
}

func testLeaseRenewAndReclaim(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := newJob(t, ctx, store)

	claimed, err := store.ClaimNext(ctx, "w1", 50*time.Millisecond)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}
	if _, err := store.UpdateJob(ctx, job.ID, queue.ProgressPatch(0.4)); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := store.RenewLease(ctx, job.ID, "intruder", time.Minute); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for wrong worker, got %v", err)
	}
	if err := store.RenewLease(ctx, job.ID, "w1", time.Minute); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}

	n, err := store.ReclaimExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if n != 0 {
		t.Fatalf("renewed lease should not be reclaimed, got %d", n)
	}

	n, err = store.ReclaimExpired(ctx, time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", n)
	}
	reclaimed := mustGet(t, ctx, store, job.ID)
	if reclaimed.Status != queue.StatusQueued || reclaimed.ClaimedBy != "" || reclaimed.LeaseUntil != nil {
		t.Fatalf("unexpected reclaimed job: %+v", reclaimed)
	}
	if reclaimed.Progress != 0.4 {
		t.Fatalf("reclaim must keep progress, got %v", reclaimed.Progress)
	}
	if err := store.RenewLease(ctx, job.ID, "w1", time.Minute); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost after reclaim, got %v", err)
	}
}

func testStaleOwnerFenced(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := newJob(t, ctx, store)

	if _, err := store.ClaimNext(ctx, "w1", time.Millisecond); err != nil {
		t.Fatalf("ClaimNext w1: %v", err)
	}
	if _, err := store.ReclaimExpired(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	claimed, err := store.ClaimNext(ctx, "w2", time.Minute)
	if err != nil || claimed == nil || claimed.ID != job.ID {
		t.Fatalf("ClaimNext w2: %v %v", claimed, err)
	}

	stale := queue.DonePatch("jobs/" + job.ID + "/result.glb").WithOwner("w1")
	if _, err := store.UpdateJob(ctx, job.ID, stale); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale owner, got %v", err)
	}
	if _, err := store.UpdateJob(ctx, job.ID, queue.ProgressPatch(0.5).WithOwner("w1")); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale progress, got %v", err)
	}
	got := mustGet(t, ctx, store, job.ID)
	if got.Status != queue.StatusRunning || got.ClaimedBy != "w2" || got.Progress != 0 {
		t.Fatalf("stale writes leaked: %+v", got)
	}

	if _, err := store.UpdateJob(ctx, job.ID, queue.ProgressPatch(0.5).WithOwner("w2")); err != nil {
		t.Fatalf("owner progress: %v", err)
	}
	done, err := store.UpdateJob(ctx, job.ID, queue.DonePatch("jobs/"+job.ID+"/result.glb").WithOwner("w2"))
	if err != nil {
		t.Fatalf("owner done: %v", err)
	}
	if done.Status != queue.StatusDone || done.ClaimedBy != "" {
		t.Fatalf("unexpected done job: %+v", done)
	}
}

func testStats(t *testing.T, store queue.Store) {
	ctx := context.Background()
	a := newJob(t, ctx, store)
	newJob(t, ctx, store)
	newJob(t, ctx, store)
	if _, err := store.ClaimNext(ctx, "w1", time.Minute); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := store.UpdateJob(ctx, a.ID, queue.DonePatch("jobs/"+a.ID+"/result.glb")); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusQueued] != 2 || stats[queue.StatusDone] != 1 || stats[queue.StatusRunning] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}
