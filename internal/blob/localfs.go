package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"holo/internal/fileutil"
	"holo/internal/services"
)

// LocalFS stores objects as files below a root directory.
type LocalFS struct {
	root string
}

var _ Store = (*LocalFS)(nil)

// NewLocalFS creates the root directory if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: blob root is required", services.ErrConfiguration)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *LocalFS) Root() string {
	return l.root
}

func (l *LocalFS) resolve(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	abs := filepath.Join(l.root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q escapes root", ErrInvalidKey, key)
	}
	return cleaned, abs, nil
}

// Put writes r under key.
func (l *LocalFS) Put(_ context.Context, key string, r io.Reader) (string, error) {
	cleaned, abs, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := fileutil.WriteAtomic(abs, r, 0o644); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "blob", "put", cleaned, err)
	}
	return cleaned, nil
}

// Open opens the object stored under key.
func (l *LocalFS) Open(_ context.Context, key string) (io.ReadCloser, error) {
	cleaned, abs, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
		}
		return nil, services.Wrap(services.ErrUnavailable, "blob", "open", cleaned, err)
	}
	if info, statErr := f.Stat(); statErr == nil && info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	return f, nil
}

// Exists reports whether a regular file is stored under key.
func (l *LocalFS) Exists(_ context.Context, key string) (bool, error) {
	cleaned, abs, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Wrap(services.ErrUnavailable, "blob", "exists", cleaned, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the file stored under key.
func (l *LocalFS) Delete(_ context.Context, key string) error {
	cleaned, abs, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrUnavailable, "blob", "delete", cleaned, err)
	}
	return nil
}

// List returns keys below prefix. Temporary files from in-flight writes are skipped.
func (l *LocalFS) List(_ context.Context, prefix string) ([]string, error) {
	cleaned, abs, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, services.Wrap(services.ErrUnavailable, "blob", "list", cleaned, walkErr)
	}
	sort.Strings(keys)
	return keys, nil
}

// URI returns a file:// URI for key.
func (l *LocalFS) URI(key string) (string, error) {
	_, abs, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// KeyForURI maps a file:// URI below the root, or a bare key, back to a key.
func (l *LocalFS) KeyForURI(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return CleanKey(uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidKey, u.Scheme)
	}
	abs := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the store root", ErrInvalidKey, uri)
	}
	return CleanKey(filepath.ToSlash(rel))
}
