package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"holo/internal/api"
	"holo/internal/queue"
)

// ListOptions filters ListJobs. Zero values mean no filter and the server
// default limit.
type ListOptions struct {
	Status queue.Status
	Limit  int
}

// Download is a streamed artifact. Callers close Body.
type Download struct {
	ContentType string
	Body        io.ReadCloser
}

// CreateJob uploads image and enqueues a bake job. spec may be nil to use
// the server defaults.
func (c *Client) CreateJob(ctx context.Context, image io.Reader, filename string, spec []byte) (string, error) {
	if image == nil {
		return "", fmt.Errorf("image is required")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if strings.TrimSpace(filename) == "" {
		filename = "image.png"
	}
	part, err := writer.CreateFormFile("image", path.Base(filename))
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(bytes.TrimSpace(spec)) > 0 {
		if err := writer.WriteField("bakeSpec", string(spec)); err != nil {
			return "", fmt.Errorf("build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/jobs", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var created api.CreateJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.JobID == "" {
		return "", fmt.Errorf("create response missing jobId")
	}
	return created.JobID, nil
}

// GetJob fetches one job and refreshes the recent jobs cache.
func (c *Client) GetJob(ctx context.Context, id string) (api.JobView, error) {
	var view api.JobView
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(id), &view); err != nil {
		return api.JobView{}, err
	}
	c.remember(view)
	return view, nil
}

// ListJobs lists jobs newest first.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) ([]api.JobView, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	target := "/jobs"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var views []api.JobView
	if err := c.getJSON(ctx, target, &views); err != nil {
		return nil, err
	}
	c.remember(views...)
	return views, nil
}

// Result streams the exported asset of a done job.
func (c *Client) Result(ctx context.Context, id string) (Download, error) {
	return c.download(ctx, "/jobs/"+url.PathEscape(id)+"/result")
}

// Artifact streams a work artifact by its path relative to the job's work
// namespace.
func (c *Client) Artifact(ctx context.Context, id, rel string) (Download, error) {
	segments := strings.Split(strings.TrimLeft(rel, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return c.download(ctx, "/jobs/"+url.PathEscape(id)+"/artifacts/"+strings.Join(segments, "/"))
}

// Artifacts lists the job's work artifacts.
func (c *Client) Artifacts(ctx context.Context, id string) ([]string, error) {
	var list api.ArtifactList
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(id)+"/artifacts", &list); err != nil {
		return nil, err
	}
	return list.Artifacts, nil
}

func (c *Client) download(ctx context.Context, target string) (Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Download{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return Download{}, err
	}
	return Download{ContentType: resp.Header.Get("Content-Type"), Body: resp.Body}, nil
}

func (c *Client) remember(views ...api.JobView) {
	if c.recent == nil || len(views) == 0 {
		return
	}
	if err := c.recent.Store(views...); err != nil {
		c.logger.Debug("recent jobs cache not updated", "error", err)
	}
}
