package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"holo/internal/blob"
	"holo/internal/queue"
	"holo/internal/services"
	"holo/internal/testsupport"
)

type serviceFixture struct {
	svc     *JobService
	store   queue.Store
	blobs   blob.Store
	created []string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	f := &serviceFixture{
		store: testsupport.MustOpenStore(t, cfg),
		blobs: testsupport.MustOpenBlob(t, cfg),
	}
	f.svc = NewJobService(f.store, f.blobs, JobServiceOptions{
		ResultBaseURL: "http://holo.test/",
		OnCreate:      func(id string) { f.created = append(f.created, id) },
	})
	return f
}

func (f *serviceFixture) create(t *testing.T, spec string) string {
	t.Helper()
	resp, err := f.svc.CreateJob(context.Background(), CreateJobRequest{
		Image:    bytes.NewReader(testsupport.SubjectPNG(t, 16)),
		Filename: "subject.png",
		Spec:     []byte(spec),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return resp.JobID
}

func TestCreateJobStoresInputAndCanonicalSpec(t *testing.T) {
	f := newServiceFixture(t)
	id := f.create(t, `{"views":{"count":6}}`)

	view, err := f.svc.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if view.Status != "queued" || view.Progress != 0 {
		t.Fatalf("unexpected initial state %+v", view)
	}
	if view.InputKey != blob.InputKey(id, "png") {
		t.Fatalf("unexpected input key %q", view.InputKey)
	}
	if view.ResultURL != "" || view.OutputKey != "" {
		t.Fatalf("queued job must not expose a result: %+v", view)
	}
	if !strings.Contains(view.SpecJSON, `"count":6`) || !strings.Contains(view.SpecJSON, `"version"`) {
		t.Fatalf("expected canonical spec with defaults, got %s", view.SpecJSON)
	}
	if ok, _ := f.blobs.Exists(context.Background(), view.InputKey); !ok {
		t.Fatal("expected input image stored")
	}
	if len(f.created) != 1 || f.created[0] != id {
		t.Fatalf("OnCreate not called: %v", f.created)
	}
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	png := testsupport.SubjectPNG(t, 16)

	cases := []struct {
		name string
		req  CreateJobRequest
		want string
	}{
		{"missing image", CreateJobRequest{}, "image file is required"},
		{"empty image", CreateJobRequest{Image: bytes.NewReader(nil)}, "image file is empty"},
		{"invalid json", CreateJobRequest{Image: bytes.NewReader(png), Spec: []byte("{")}, "invalid bake spec"},
		{"version mismatch", CreateJobRequest{Image: bytes.NewReader(png), Spec: []byte(`{"version":"0.0.1"}`)}, "version mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tc.req)
			if StatusCode(err) != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%v)", StatusCode(err), err)
			}
			if !strings.Contains(PublicMessage(err), tc.want) {
				t.Fatalf("message %q does not mention %q", PublicMessage(err), tc.want)
			}
		})
	}
	jobs, err := f.store.ListJobs(ctx, queue.ListOptions{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected uploads must not create jobs, got %d", len(jobs))
	}
}

func TestImageExt(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'}
	cases := []struct {
		filename string
		data     []byte
		want     string
	}{
		{"photo.JPEG", nil, "jpg"},
		{"cat.webp", nil, "webp"},
		{"upload", jpeg, "jpg"},
		{"upload.bin", []byte("??"), "png"},
		{`C:\images\a.png`, nil, "png"},
	}
	for _, tc := range cases {
		if got := imageExt(tc.filename, tc.data); got != tc.want {
			t.Errorf("imageExt(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.GetJob(context.Background(), "missing")
	if StatusCode(err) != http.StatusNotFound || PublicMessage(err) != "job not found" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestListJobsValidatesQuery(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, "")
	}

	all, err := f.svc.ListJobs(ctx, "", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListJobs: %d %v", len(all), err)
	}
	limited, err := f.svc.ListJobs(ctx, "QUEUED", "2")
	if err != nil || len(limited) != 2 {
		t.Fatalf("ListJobs limit: %d %v", len(limited), err)
	}
	capped, err := f.svc.ListJobs(ctx, "", "5000")
	if err != nil || len(capped) != 3 {
		t.Fatalf("expected capped limit to succeed: %d %v", len(capped), err)
	}
	done, err := f.svc.ListJobs(ctx, "done", "")
	if err != nil || len(done) != 0 {
		t.Fatalf("ListJobs done: %d %v", len(done), err)
	}

	for _, q := range [][2]string{{"finished", ""}, {"", "0"}, {"", "ten"}, {"", "-1"}} {
		if _, err := f.svc.ListJobs(ctx, q[0], q[1]); StatusCode(err) != http.StatusBadRequest {
			t.Fatalf("query %v: expected 400, got %v", q, err)
		}
	}
}

func TestResultLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t, "")

	_, err := f.svc.Result(ctx, id)
	if StatusCode(err) != http.StatusNotFound || PublicMessage(err) != "result not ready" {
		t.Fatalf("expected result not ready, got %v", err)
	}
	if _, err := f.svc.Result(ctx, "nope"); PublicMessage(err) != "job not found" {
		t.Fatalf("expected job not found, got %v", err)
	}

	key := blob.ResultKey(id, "glb")
	if _, err := blob.PutBytes(ctx, f.blobs, key, []byte("glTF-binary")); err != nil {
		t.Fatalf("put result: %v", err)
	}
	if _, err := f.store.ClaimNext(ctx, "w1", time.Minute); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := f.store.UpdateJob(ctx, id, queue.DonePatch(key)); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	view, err := f.svc.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if view.ResultURL != "http://holo.test/jobs/"+id+"/result" {
		t.Fatalf("unexpected result url %q", view.ResultURL)
	}
	art, err := f.svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	defer art.Body.Close()
	if art.ContentType != "model/gltf-binary" {
		t.Fatalf("unexpected content type %q", art.ContentType)
	}
	body, _ := io.ReadAll(art.Body)
	if string(body) != "glTF-binary" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestArtifactRejectsTraversal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := f.create(t, "")
	if _, err := blob.PutBytes(ctx, f.blobs, blob.WorkPrefix(id)+"views/view_000.png", []byte("png")); err != nil {
		t.Fatalf("put artifact: %v", err)
	}

	for _, rel := range []string{"../../../etc/passwd", "../input.png", "/etc/passwd", ""} {
		if _, err := f.svc.Artifact(ctx, id, rel); StatusCode(err) != http.StatusBadRequest {
			t.Fatalf("artifact %q: expected 400, got %v", rel, err)
		}
	}
	if _, err := f.svc.Artifact(ctx, "abc", "../../../etc/passwd"); StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("unknown job with traversal: expected 400, got %v", err)
	}
	if _, err := f.svc.Artifact(ctx, "..", "x"); StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("dot-dot job id: expected 400, got %v", err)
	}
	if _, err := f.svc.Artifact(ctx, id, "views/missing.png"); StatusCode(err) != http.StatusNotFound {
		t.Fatalf("missing artifact: expected 404, got %v", err)
	}

	art, err := f.svc.Artifact(ctx, id, "views/view_000.png")
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	art.Body.Close()
	if art.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", art.ContentType)
	}

	list, err := f.svc.Artifacts(ctx, id)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(list.Artifacts) != 1 || list.Artifacts[0] != "views/view_000.png" {
		t.Fatalf("unexpected artifact list %v", list.Artifacts)
	}
}

type failingStore struct{}

func (failingStore) CreateJob(context.Context, *queue.Job) error {
	return services.Wrap(services.ErrUnavailable, "queue", "create job", "", errors.New("disk I/O error at /var/lib/holo"))
}

func (failingStore) GetJob(context.Context, string) (*queue.Job, error) {
	return nil, errors.New("driver exploded")
}

func (failingStore) ListJobs(context.Context, queue.ListOptions) ([]*queue.Job, error) {
	return nil, nil
}

func TestInfrastructureErrorsAreNotLeaked(t *testing.T) {
	blobs, err := blob.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	svc := NewJobService(failingStore{}, blobs, JobServiceOptions{})

	_, err = svc.CreateJob(context.Background(), CreateJobRequest{Image: strings.NewReader("png")})
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", StatusCode(err))
	}
	if strings.Contains(PublicMessage(err), "/var/lib") {
		t.Fatalf("message leaks internals: %q", PublicMessage(err))
	}

	_, err = svc.GetJob(context.Background(), "x")
	if StatusCode(err) != http.StatusInternalServerError || PublicMessage(err) != "internal server error" {
		t.Fatalf("unexpected mapping %d %q", StatusCode(err), PublicMessage(err))
	}
}

func TestCreateJobRemovesInputWhenEnqueueFails(t *testing.T) {
	blobs, err := blob.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	svc := NewJobService(failingStore{}, blobs, JobServiceOptions{NewID: func() string { return "job-orphan" }})

	_, err = svc.CreateJob(context.Background(), CreateJobRequest{
		Image:    bytes.NewReader(testsupport.SubjectPNG(t, 16)),
		Filename: "subject.png",
	})
	if err == nil {
		t.Fatal("expected CreateJob to fail")
	}
	if ok, _ := blobs.Exists(context.Background(), blob.InputKey("job-orphan", "png")); ok {
		t.Fatal("input image left behind without a job")
	}
	keys, err := blobs.List(context.Background(), "jobs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no stored blobs, got %v", keys)
	}
}
