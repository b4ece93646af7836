package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
	"github.com/JakeFAU/listing-tracker/internal/storage"
)

// ArtifactStore keeps raw pages in memory.
type ArtifactStore struct {
	mu   sync.RWMutex
	tmpl storage.PathTemplate
	data map[string][]byte
}

var _ crawler.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore creates an empty in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{tmpl: storage.DefaultPathTemplate, data: make(map[string][]byte)}
}

// Path returns the artifact key for a resource and run.
func (s *ArtifactStore) Path(resourceID string, runStartedAt time.Time) string {
	return s.tmpl.Render(resourceID, runStartedAt)
}

// Write stores a copy of body and returns its key.
func (s *ArtifactStore) Write(ctx context.Context, resourceID string, runStartedAt time.Time, body []byte) (string, error) {
	return s.Put(ctx, s.Path(resourceID, runStartedAt), body)
}

// Put stores a copy of body under key.
func (s *ArtifactStore) Put(_ context.Context, key string, body []byte) (string, error) {
	if key == "" {
		return "", errors.New("artifact key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), body...)
	return key, nil
}

// Read returns a copy of the artifact stored under key.
func (s *ArtifactStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[key]
	if !ok {
		return nil, &crawler.ArtifactMissingError{Path: key}
	}
	return append([]byte(nil), body...), nil
}

// Exists reports whether key is stored.
func (s *ArtifactStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// Delete removes key.
func (s *ArtifactStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}
