// Package gcs provides a raw-artifact store backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	artifacts "github.com/JakeFAU/listing-tracker/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket       string
	PathTemplate artifacts.PathTemplate
}

// BlobStore writes raw pages to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	tmpl   artifacts.PathTemplate
}

var _ crawler.ArtifactStore = (*BlobStore)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = artifacts.DefaultPathTemplate
	}
	if err := cfg.PathTemplate.Validate(); err != nil {
		return nil, err
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, tmpl: cfg.PathTemplate}, nil
}

// Path returns the object name for a resource and run.
func (s *BlobStore) Path(resourceID string, runStartedAt time.Time) string {
	return s.tmpl.Render(resourceID, runStartedAt)
}

// Write uploads body under the deterministic object name and returns it.
func (s *BlobStore) Write(ctx context.Context, resourceID string, runStartedAt time.Time, body []byte) (string, error) {
	if strings.TrimSpace(resourceID) == "" {
		return "", fmt.Errorf("resource id is required")
	}
	return s.Put(ctx, s.Path(resourceID, runStartedAt), body)
}

// Put uploads body under key with a content type sniffed from the body.
func (s *BlobStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("object key %q is invalid", key)
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = http.DetectContentType(body)
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return key, nil
}

// Read downloads the object stored under key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &crawler.ArtifactMissingError{Path: key}
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Exists reports whether an object is stored under key.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat object: %w", err)
	}
}

// URI returns the gs:// URI of an object key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}
