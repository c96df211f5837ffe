// ABOUTME: Filesystem-backed blob storage for message attachments
// ABOUTME: Writes under a root directory and returns publicly servable URLs

// Package blob stores attachment payloads. Uploads are written to the
// local filesystem under a root directory and addressed by URL; the HTTP
// layer serves the root read-only.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store is the write side of blob storage.
type Store interface {
	// Put streams r into storage at blobPath and returns the URL the blob
	// is reachable at, plus the number of bytes written.
	Put(ctx context.Context, blobPath string, r io.Reader) (url string, size int64, err error)
}

// FSStore stores blobs as files under a root directory.
type FSStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFSStore creates the root directory if needed. baseURL is the public
// prefix blobs are served under, without a trailing slash.
func NewFSStore(root, baseURL string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FSStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "blob"),
	}, nil
}

// Put writes the blob to disk via a temp file and rename, so a crashed
// upload never leaves a partial blob at its final path.
func (s *FSStore) Put(ctx context.Context, blobPath string, r io.Reader) (string, int64, error) {
	rel, err := s.sanitize(blobPath)
	if err != nil {
		return "", 0, err
	}

	dst := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("writing blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, fmt.Errorf("finalizing blob: %w", err)
	}

	url := s.baseURL + "/" + filepath.ToSlash(rel)
	s.logger.Debug("blob stored", "path", rel, "size", size)
	return url, size, nil
}

// Root returns the directory blobs live under, for read-only serving.
func (s *FSStore) Root() string {
	return s.root
}

// sanitize normalizes blobPath and refuses anything that would escape the
// root directory.
func (s *FSStore) sanitize(blobPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(blobPath))
	if cleaned == "." || cleaned == string(filepath.Separator) ||
		filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid blob path %q", blobPath)
	}
	return cleaned, nil
}

// contextReader aborts a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
