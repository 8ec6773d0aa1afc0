package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/deps"
	"holo/internal/pipeline/remote"
	"holo/internal/queueaccess"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckJobStore opens the configured job store and reads its counts. When a
// daemon holds the instance lock the store is left alone: badger allows a
// single opener.
func CheckJobStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Job store"
	where := queueaccess.Describe(cfg)

	lock := flock.New(cfg.DaemonLockPath())
	locked, err := lock.TryLock()
	if err == nil && !locked {
		return Result{Name: name, Passed: true, Detail: where + " (in use by running holod)"}
	}
	if locked {
		defer func() { _ = lock.Unlock() }()
	}

	store, err := queueaccess.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", where, err)}
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", where, err)}
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d jobs)", where, total)}
}

// CheckBlobStore opens the configured artifact store and issues one lookup.
func CheckBlobStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Blob store"
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := blob.Open(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("open failed (%v)", err)}
	}
	where := blobLocation(cfg)
	if _, err := store.Exists(checkCtx, "preflight/reachable"); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", where, summarize(err))}
	}
	return Result{Name: name, Passed: true, Detail: where + " (reachable)"}
}

func blobLocation(cfg *config.Config) string {
	if cfg.Blob.Backend == config.BlobBackendS3 {
		return "s3://" + strings.Trim(cfg.Blob.S3Bucket+"/"+cfg.Blob.S3Prefix, "/")
	}
	return cfg.Blob.LocalRoot
}

// CheckEndpoint verifies that a holo HTTP endpoint answers /healthz. It
// serves both the remote runner sidecar and a running holod.
func CheckEndpoint(ctx context.Context, name, baseURL string) Result {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	runner := remote.New(base, remote.Options{Timeout: 5 * time.Second})
	if err := runner.Ping(ctx); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: base + " (reachable)"}
}

// CheckAPIKey reports whether a provider key is present. Optional providers
// pass without a key; their stage records an error per job instead.
func CheckAPIKey(name, key string, optional bool) Result {
	if strings.TrimSpace(key) != "" {
		return Result{Name: name, Passed: true, Detail: "API key configured"}
	}
	if optional {
		return Result{Name: name, Passed: true, Detail: "API key not set (stage will report not configured)"}
	}
	return Result{Name: name, Detail: "API key missing"}
}

// CheckBinaries converts executable availability into results. Missing
// optional tools pass with a note.
func CheckBinaries(requirements []deps.Requirement) []Result {
	statuses := deps.CheckBinaries(requirements)
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		r := Result{Name: status.Name, Passed: !status.Missing()}
		switch {
		case status.Available:
			r.Detail = status.Path
		case status.Optional:
			r.Detail = status.Detail + " (optional: " + status.Description + ")"
		default:
			r.Detail = status.Detail
		}
		results = append(results, r)
	}
	return results
}

func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
