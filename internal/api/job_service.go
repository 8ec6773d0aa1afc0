package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"holo/internal/bakespec"
	"holo/internal/blob"
	"holo/internal/queue"
	"holo/internal/services"
)

// JobStore abstracts the job persistence the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *queue.Job) error
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	ListJobs(ctx context.Context, opts queue.ListOptions) ([]*queue.Job, error)
}

// JobServiceOptions configures optional JobService behavior.
type JobServiceOptions struct {
	// ResultBaseURL prefixes resultUrl in job views.
	ResultBaseURL string
	// OnCreate is called with the id of every created job.
	OnCreate func(jobID string)
	// NewID overrides job id generation (tests).
	NewID func() string
}

// JobService implements the Job API operations over the job and blob stores.
type JobService struct {
	store      JobStore
	blobs      blob.Store
	resultBase string
	onCreate   func(string)
	newID      func() string
}

// NewJobService constructs a JobService.
func NewJobService(store JobStore, blobs blob.Store, opts JobServiceOptions) *JobService {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &JobService{
		store:      store,
		blobs:      blobs,
		resultBase: opts.ResultBaseURL,
		onCreate:   opts.OnCreate,
		newID:      newID,
	}
}

// CreateJobRequest carries the upload of POST /jobs.
type CreateJobRequest struct {
	Image    io.Reader
	Filename string
	// Spec is the optional bake spec JSON; empty selects the default spec.
	Spec []byte
}

// Artifact is a stored object opened for streaming. Callers close Body.
type Artifact struct {
	Key         string
	ContentType string
	Body        io.ReadCloser
}

var imageExts = map[string]string{
	"png":  "png",
	"jpg":  "jpg",
	"jpeg": "jpg",
	"webp": "webp",
}

// CreateJob stores the image, canonicalizes the spec and enqueues a job. The
// spec is validated before anything is written.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (CreateJobResponse, error) {
	if req.Image == nil {
		return CreateJobResponse{}, badRequest("image file is required", nil)
	}
	_, canonical, err := bakespec.CanonicalizeJSON(req.Spec)
	if err != nil {
		return CreateJobResponse{}, err
	}
	data, err := io.ReadAll(req.Image)
	if err != nil {
		return CreateJobResponse{}, badRequest("could not read image upload", err)
	}
	if len(data) == 0 {
		return CreateJobResponse{}, badRequest("image file is empty", nil)
	}

	id := s.newID()
	inputKey := blob.InputKey(id, imageExt(req.Filename, data))
	if _, err := s.blobs.Put(ctx, inputKey, bytes.NewReader(data)); err != nil {
		return CreateJobResponse{}, services.Wrap(services.ErrUnavailable, "api", "store input", "could not store image", err)
	}
	job := &queue.Job{ID: id, InputKey: inputKey, SpecJSON: string(canonical)}
	if err := s.store.CreateJob(ctx, job); err != nil {
		// No job references the upload; drop it even if ctx is done.
		_ = s.blobs.Delete(context.WithoutCancel(ctx), inputKey)
		return CreateJobResponse{}, err
	}
	if s.onCreate != nil {
		s.onCreate(id)
	}
	return CreateJobResponse{JobID: id}, nil
}

// imageExt prefers a known filename extension and falls back to sniffing.
func imageExt(filename string, data []byte) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.ReplaceAll(filename, "\\", "/")), "."))
	if norm, ok := imageExts[ext]; ok {
		return norm
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// GetJob returns the view of one job.
func (s *JobService) GetJob(ctx context.Context, id string) (JobView, error) {
	job, err := s.lookup(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job, s.resultBase), nil
}

// ListJobs lists jobs newest first. status and limit are raw query values;
// empty means no filter and the default limit. Limits above the maximum are
// capped.
func (s *JobService) ListJobs(ctx context.Context, status, limit string) ([]JobView, error) {
	opts := queue.ListOptions{}
	if strings.TrimSpace(status) != "" {
		parsed, err := queue.ParseStatus(status)
		if err != nil {
			return nil, badRequest(fmt.Sprintf("invalid status %q", status), nil)
		}
		opts.Status = &parsed
	}
	if strings.TrimSpace(limit) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil || n < 1 {
			return nil, badRequest(fmt.Sprintf("invalid limit %q", limit), nil)
		}
		opts.Limit = n
	}
	opts.Limit = queue.NormalizeLimit(opts.Limit)
	jobs, err := s.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs, s.resultBase), nil
}

// Result opens the exported asset of a done job.
func (s *JobService) Result(ctx context.Context, id string) (Artifact, error) {
	job, err := s.lookup(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if job.OutputKey == "" {
		return Artifact{}, notFound("result not ready")
	}
	body, err := s.blobs.Open(ctx, job.OutputKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Artifact{}, notFound("result not ready")
		}
		return Artifact{}, err
	}
	return Artifact{Key: job.OutputKey, ContentType: blob.ContentTypeFor(job.OutputKey), Body: body}, nil
}

// Artifact opens a work artifact by its path relative to the job's work
// namespace. Traversal is rejected before the job is looked up.
func (s *JobService) Artifact(ctx context.Context, id, rel string) (Artifact, error) {
	if err := checkJobID(id); err != nil {
		return Artifact{}, err
	}
	key, err := blob.WorkKey(id, rel)
	if err != nil {
		return Artifact{}, badRequest("invalid artifact path", err)
	}
	if _, err := s.lookup(ctx, id); err != nil {
		return Artifact{}, err
	}
	body, err := s.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Artifact{}, notFound("artifact not found")
		}
		return Artifact{}, err
	}
	return Artifact{Key: key, ContentType: blob.ContentTypeFor(key), Body: body}, nil
}

// Artifacts lists the job's work artifacts.
func (s *JobService) Artifacts(ctx context.Context, id string) (ArtifactList, error) {
	if _, err := s.lookup(ctx, id); err != nil {
		return ArtifactList{}, err
	}
	prefix := blob.WorkPrefix(id)
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return ArtifactList{}, err
	}
	list := ArtifactList{JobID: id, Artifacts: make([]string, 0, len(keys))}
	for _, key := range keys {
		list.Artifacts = append(list.Artifacts, strings.TrimPrefix(key, prefix))
	}
	return list, nil
}

func (s *JobService) lookup(ctx context.Context, id string) (*queue.Job, error) {
	if err := checkJobID(id); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, notFound("job not found")
		}
		return nil, err
	}
	return job, nil
}

// checkJobID rejects ids that could not name a single key segment.
func checkJobID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return badRequest("invalid job id", nil)
	}
	return nil
}

func badRequest(message string, err error) error {
	return services.Wrap(services.ErrValidation, "", "", message, err)
}

func notFound(message string) error {
	return services.Wrap(services.ErrNotFound, "", "", message, nil)
}
