// Package blob stores job inputs and artifacts under relative keys.
//
// Keys are slash-separated and always pass through CleanKey, which rejects
// empty, absolute, and parent-traversal keys before any backend touches
// storage. Two backends exist: LocalFS rooted at a directory and S3 for
// object storage. Both expose stable URIs so stage descriptors can reference
// artifacts, and KeyForURI maps those URIs back to keys with the same checks.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"holo/internal/services"
)

var (
	// ErrNotFound indicates the key has no stored object.
	ErrNotFound = fmt.Errorf("blob %w", services.ErrNotFound)
	// ErrInvalidKey indicates a key that is empty, absolute, or escapes the root.
	ErrInvalidKey = fmt.Errorf("invalid blob key: %w", services.ErrValidation)
)

// Store is the artifact storage contract.
type Store interface {
	// Put writes r under key, overwriting any existing object, and returns the
	// normalized key.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns keys below prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	URI(key string) (string, error)
	KeyForURI(uri string) (string, error)
}

// CleanKey normalizes key to slash form and rejects anything that could
// resolve outside the store root.
func CleanKey(key string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if raw == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: NUL byte in %q", ErrInvalidKey, key)
	}
	if strings.HasPrefix(raw, "/") || hasDriveLetter(raw) {
		return "", fmt.Errorf("%w: absolute key %q", ErrInvalidKey, key)
	}
	segments := strings.Split(raw, "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: parent traversal in %q", ErrInvalidKey, key)
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return strings.Join(kept, "/"), nil
}

func hasDriveLetter(key string) bool {
	if len(key) < 2 || key[1] != ':' {
		return false
	}
	c := key[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// JobPrefix returns the namespace that owns every object of a job.
func JobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// InputKey returns the key for the uploaded source image.
func InputKey(jobID, ext string) string {
	return JobPrefix(jobID) + "input." + normalizeExt(ext, "png")
}

// ResultKey returns the key for the exported asset.
func ResultKey(jobID, ext string) string {
	return JobPrefix(jobID) + "result." + normalizeExt(ext, "glb")
}

// WorkPrefix returns the namespace for intermediate artifacts.
func WorkPrefix(jobID string) string {
	return JobPrefix(jobID) + "work/"
}

// WorkKey joins rel below the job work namespace. rel comes from clients, so
// it is cleaned and traversal is rejected.
func WorkKey(jobID, rel string) (string, error) {
	cleaned, err := CleanKey(rel)
	if err != nil {
		return "", err
	}
	return WorkPrefix(jobID) + cleaned, nil
}

func normalizeExt(ext, fallback string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || strings.ContainsAny(ext, "/\\") {
		return fallback
	}
	return ext
}

var contentTypes = map[string]string{
	".glb":   "model/gltf-binary",
	".gltf":  "model/gltf+json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".webp":  "image/webp",
	".json":  "application/json",
	".jsonl": "application/x-ndjson",
	".obj":   "model/obj",
	".ply":   "application/x-ply",
}

// ContentTypeFor derives a media type from the key extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PutBytes is a convenience wrapper around Store.Put.
func PutBytes(ctx context.Context, store Store, key string, data []byte) (string, error) {
	return store.Put(ctx, key, bytes.NewReader(data))
}

// ReadAll reads the whole object stored under key.
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadURI resolves uri through store and reads the object.
func ReadURI(ctx context.Context, store Store, uri string) ([]byte, error) {
	key, err := store.KeyForURI(uri)
	if err != nil {
		return nil, err
	}
	return ReadAll(ctx, store, key)
}

// WriteURI resolves uri through store and writes data.
func WriteURI(ctx context.Context, store Store, uri string, data []byte) (string, error) {
	key, err := store.KeyForURI(uri)
	if err != nil {
		return "", err
	}
	return PutBytes(ctx, store, key, data)
}
