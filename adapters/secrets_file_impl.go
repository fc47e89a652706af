package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
)

// FileSecretStore keeps secrets in a single JSON file on disk. Meant for
// local development, not shared deployments.
type FileSecretStore struct {
	location string
	mu       sync.Mutex
	values   map[string]string
}

func NewFileSecretStore(location string) (f.SecretStore, error) {
	store := &FileSecretStore{
		location: location,
		values:   map[string]string{},
	}
	data, err := os.ReadFile(location)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("[file-secrets] failed to open %s: %w", location, err)
		}
		return store, nil
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &store.values); err != nil {
			return nil, fmt.Errorf("[file-secrets] %s is not valid JSON: %w", location, err)
		}
	}
	return store, nil
}

func (s *FileSecretStore) Name() string {
	return "file"
}

func (s *FileSecretStore) Close() error {
	return nil
}

func (s *FileSecretStore) GetSecret(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[path]
	if !ok {
		return "", errors.SecretNotFound(path)
	}
	return value, nil
}

func (s *FileSecretStore) CreateSecret(_ context.Context, path string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
	return s.persist()
}

func (s *FileSecretStore) UpdateSecret(ctx context.Context, path string, value string) error {
	return s.CreateSecret(ctx, path, value)
}

func (s *FileSecretStore) DeleteSecret(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, path)
	return s.persist()
}

func (s *FileSecretStore) persist() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.location, data, 0o600)
}
