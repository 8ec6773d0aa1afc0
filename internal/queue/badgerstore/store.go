// Package badgerstore implements queue.Store on an embedded badger database
// through badgerhold. It suits single-process deployments that want to avoid
// SQLite; badger holds an exclusive directory lock, so API and orchestrator
// must share one process (holod does).
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"holo/internal/queue"
	"holo/internal/services"
)

// jobRecord is the persisted shape. Seq orders creations that share a
// millisecond.
type jobRecord struct {
	ID           string `badgerhold:"key"`
	Seq          int64
	Status       string `badgerhold:"index"`
	Progress     float64
	CreatedAtMs  int64
	UpdatedAtMs  int64
	InputKey     string
	SpecJSON     string
	OutputKey    string
	Error        string
	ClaimedBy    string
	LeaseUntilMs int64
}

// Store is a queue.Store backed by badgerhold.
type Store struct {
	db      *badgerhold.Store
	dir     string
	mu      sync.Mutex
	lastSeq int64
	now     func() time.Time
}

var _ queue.Store = (*Store)(nil)

// Open opens or creates the badger database in dir.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: badger directory is required", services.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "queue", "open badger", dir, err)
	}
	return &Store{db: db, dir: dir, now: time.Now}, nil
}

// Close releases the badger directory lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func unavailable(operation string, err error) error {
	return services.Wrap(services.ErrUnavailable, "queue", operation, "", err)
}

func (s *Store) nextSeq() int64 {
	seq := s.now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// CreateJob inserts a queued job with zero progress.
func (s *Store) CreateJob(_ context.Context, job *queue.Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: job id is required", services.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Millisecond)
	rec := jobRecord{
		ID:          job.ID,
		Seq:         s.nextSeq(),
		Status:      string(queue.StatusQueued),
		CreatedAtMs: queue.ToMillis(now),
		UpdatedAtMs: queue.ToMillis(now),
		InputKey:    job.InputKey,
		SpecJSON:    job.SpecJSON,
	}
	if err := s.db.Insert(rec.ID, rec); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("%w: %s", queue.ErrAlreadyExists, job.ID)
		}
		return unavailable("create job", err)
	}
	*job = *toJob(rec)
	return nil
}

func (s *Store) get(id string) (jobRecord, error) {
	var rec jobRecord
	if err := s.db.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return rec, queue.ErrNotFound
		}
		return rec, unavailable("get job", err)
	}
	rec.ID = id
	return rec, nil
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(_ context.Context, id string) (*queue.Job, error) {
	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return toJob(rec), nil
}

// ListJobs returns jobs ordered most-recently-updated first.
func (s *Store) ListJobs(_ context.Context, opts queue.ListOptions) ([]*queue.Job, error) {
	var query *badgerhold.Query
	if opts.Status != nil {
		query = badgerhold.Where("Status").Eq(string(*opts.Status)).Index("Status")
	} else {
		query = badgerhold.Where("Seq").Ge(int64(0))
	}
	var records []jobRecord
	if err := s.db.Find(&records, query); err != nil {
		return nil, unavailable("list jobs", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UpdatedAtMs != records[j].UpdatedAtMs {
			return records[i].UpdatedAtMs > records[j].UpdatedAtMs
		}
		return records[i].Seq > records[j].Seq
	})
	return toJobs(records, queue.NormalizeLimit(opts.Limit)), nil
}

// ListQueued returns queued jobs oldest-created first.
func (s *Store) ListQueued(_ context.Context, limit int) ([]*queue.Job, error) {
	records, err := s.queued()
	if err != nil {
		return nil, unavailable("list queued", err)
	}
	return toJobs(records, queue.NormalizeLimit(limit)), nil
}

func (s *Store) queued() ([]jobRecord, error) {
	var records []jobRecord
	query := badgerhold.Where("Status").Eq(string(queue.StatusQueued)).Index("Status").SortBy("Seq")
	if err := s.db.Find(&records, query); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateJob applies patch with coalesce semantics.
func (s *Store) UpdateJob(_ context.Context, id string, patch queue.JobPatch) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if err := queue.ValidatePatch(toJob(rec), patch); err != nil {
		return nil, err
	}

	if patch.Status != nil {
		rec.Status = string(*patch.Status)
		if patch.Status.IsTerminal() {
			rec.ClaimedBy = ""
			rec.LeaseUntilMs = 0
		}
	}
	if patch.Progress != nil {
		if p := queue.ClampProgress(*patch.Progress); p > rec.Progress {
			rec.Progress = p
		}
	}
	if patch.OutputKey != nil {
		rec.OutputKey = *patch.OutputKey
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	s.touch(&rec)

	if err := s.db.Update(rec.ID, rec); err != nil {
		return nil, unavailable("update job", err)
	}
	return toJob(rec), nil
}

func (s *Store) touch(rec *jobRecord) {
	now := queue.ToMillis(s.now())
	if now > rec.UpdatedAtMs {
		rec.UpdatedAtMs = now
	}
}

// ClaimNext moves the oldest queued job to running under a lease.
func (s *Store) ClaimNext(_ context.Context, workerID string, lease time.Duration) (*queue.Job, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, fmt.Errorf("%w: worker id is required", services.ErrValidation)
	}
	if lease <= 0 {
		return nil, fmt.Errorf("%w: lease must be positive", services.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []jobRecord
	query := badgerhold.Where("Status").Eq(string(queue.StatusQueued)).Index("Status").SortBy("Seq").Limit(1)
	if err := s.db.Find(&records, query); err != nil {
		return nil, unavailable("claim next", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]
	rec.Status = string(queue.StatusRunning)
	rec.ClaimedBy = workerID
	rec.LeaseUntilMs = queue.ToMillis(s.now().Add(lease))
	s.touch(&rec)
	if err := s.db.Update(rec.ID, rec); err != nil {
		return nil, unavailable("claim next", err)
	}
	return toJob(rec), nil
}

// RenewLease extends the lease on a running job held by workerID.
func (s *Store) RenewLease(_ context.Context, id, workerID string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if rec.Status != string(queue.StatusRunning) || rec.ClaimedBy != workerID {
		return fmt.Errorf("%w: job %s worker %s", queue.ErrLeaseLost, id, workerID)
	}
	rec.LeaseUntilMs = queue.ToMillis(s.now().Add(lease))
	s.touch(&rec)
	if err := s.db.Update(rec.ID, rec); err != nil {
		return unavailable("renew lease", err)
	}
	return nil
}

// ReclaimExpired requeues running jobs whose lease ended before now.
func (s *Store) ReclaimExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []jobRecord
	if err := s.db.Find(&records, badgerhold.Where("Status").Eq(string(queue.StatusRunning)).Index("Status")); err != nil {
		return 0, unavailable("reclaim expired", err)
	}
	cutoff := queue.ToMillis(now)
	var reclaimed int64
	for _, rec := range records {
		if rec.LeaseUntilMs == 0 || rec.LeaseUntilMs >= cutoff {
			continue
		}
		rec.Status = string(queue.StatusQueued)
		rec.ClaimedBy = ""
		rec.LeaseUntilMs = 0
		if cutoff > rec.UpdatedAtMs {
			rec.UpdatedAtMs = cutoff
		}
		if err := s.db.Update(rec.ID, rec); err != nil {
			return reclaimed, unavailable("reclaim expired", err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Stats returns job counts per status.
func (s *Store) Stats(_ context.Context) (map[queue.Status]int, error) {
	stats := make(map[queue.Status]int, 4)
	for _, status := range queue.AllStatuses() {
		count, err := s.db.Count(&jobRecord{}, badgerhold.Where("Status").Eq(string(status)).Index("Status"))
		if err != nil {
			return nil, unavailable("stats", err)
		}
		if count > 0 {
			stats[status] = int(count)
		}
	}
	return stats, nil
}

func toJob(rec jobRecord) *queue.Job {
	job := &queue.Job{
		ID:        rec.ID,
		Status:    queue.Status(rec.Status),
		Progress:  rec.Progress,
		CreatedAt: time.UnixMilli(rec.CreatedAtMs).UTC(),
		UpdatedAt: time.UnixMilli(rec.UpdatedAtMs).UTC(),
		InputKey:  rec.InputKey,
		SpecJSON:  rec.SpecJSON,
		OutputKey: rec.OutputKey,
		Error:     rec.Error,
		ClaimedBy: rec.ClaimedBy,
	}
	if rec.LeaseUntilMs > 0 {
		lease := time.UnixMilli(rec.LeaseUntilMs).UTC()
		job.LeaseUntil = &lease
	}
	return job
}

func toJobs(records []jobRecord, limit int) []*queue.Job {
	if len(records) > limit {
		records = records[:limit]
	}
	jobs := make([]*queue.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, toJob(rec))
	}
	return jobs
}
