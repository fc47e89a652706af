package adapters

import (
	"context"
	"sync"

	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
)

func NewMemorySecretStore() f.SecretStore {
	return &MemorySecretStore{
		values: make(map[string]string),
	}
}

// MemorySecretStore backs tests and throwaway environments.
type MemorySecretStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func (p *MemorySecretStore) Name() string {
	return "memory"
}

func (p *MemorySecretStore) Close() error {
	return nil
}

func (p *MemorySecretStore) GetSecret(_ context.Context, path string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[path]
	if !ok {
		return "", errors.SecretNotFound(path)
	}
	return value, nil
}

func (p *MemorySecretStore) CreateSecret(_ context.Context, path string, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[path] = value
	return nil
}

func (p *MemorySecretStore) UpdateSecret(ctx context.Context, path string, value string) error {
	return p.CreateSecret(ctx, path, value)
}

func (p *MemorySecretStore) DeleteSecret(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, path)
	return nil
}
