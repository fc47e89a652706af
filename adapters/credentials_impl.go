package adapters

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
)

type CredentialManagerConfig struct {
	Secrets f.SecretStore
	// Kind names the resource family in the default path patterns
	// ("postgres", "redis", ...).
	Kind string
	// ResourceId disambiguates several resources of the same kind sharing
	// one secret store. Empty means the shorter pattern without the
	// {resourceId} segment.
	ResourceId string
	// Pattern overrides the default path pattern. Must contain {tenantId};
	// {resourceId} is substituted when ResourceId is set.
	Pattern string
	// PasswordGenerator overrides the default 62-character alphanumeric
	// generator.
	PasswordGenerator f.PasswordGenerator
}

type credentialManagerImpl struct {
	secrets     f.SecretStore
	pattern     string
	passwordGen f.PasswordGenerator
	cache       *ristretto.Cache[string, f.ConnectionDescriptor]
}

func NewCredentialManager(cfg CredentialManagerConfig) f.CredentialManager {
	f.Check(cfg.Secrets, "credential manager requires a secret store")
	pattern := cfg.Pattern
	if h.IsEmpty(pattern) {
		if h.IsNotEmpty(cfg.ResourceId) {
			pattern = "/tenants/{tenantId}/" + cfg.Kind + "/{resourceId}/connection"
		} else {
			pattern = "/tenants/{tenantId}/" + cfg.Kind + "/connection"
		}
	}
	pattern = h.ReplacePlaceholder(pattern, "resourceId", cfg.ResourceId)
	gen := cfg.PasswordGenerator
	if gen == nil {
		gen = h.GeneratePassword
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, f.ConnectionDescriptor]{
		NumCounters: 1000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	f.CheckErr(err)
	return &credentialManagerImpl{
		secrets:     cfg.Secrets,
		pattern:     pattern,
		passwordGen: gen,
		cache:       cache,
	}
}

func (c *credentialManagerImpl) ResolvePath(tenantId string) string {
	return h.ReplacePlaceholder(c.pattern, "tenantId", tenantId)
}

func (c *credentialManagerImpl) Store(ctx context.Context, tenantId string, descriptor f.ConnectionDescriptor) error {
	return c.write(ctx, tenantId, descriptor, c.secrets.CreateSecret)
}

func (c *credentialManagerImpl) Update(ctx context.Context, tenantId string, descriptor f.ConnectionDescriptor) error {
	return c.write(ctx, tenantId, descriptor, c.secrets.UpdateSecret)
}

func (c *credentialManagerImpl) write(ctx context.Context, tenantId string, descriptor f.ConnectionDescriptor, op func(context.Context, string, string) error) error {
	path := c.ResolvePath(tenantId)
	value, err := h.ToJsonString(descriptor)
	if err != nil {
		return err
	}
	if err := op(ctx, path, value); err != nil {
		return err
	}
	c.cache.Del(path)
	return nil
}

func (c *credentialManagerImpl) Remove(ctx context.Context, tenantId string) error {
	path := c.ResolvePath(tenantId)
	c.cache.Del(path)
	return c.secrets.DeleteSecret(ctx, path)
}

func (c *credentialManagerImpl) Get(ctx context.Context, tenantId string) (*f.ConnectionDescriptor, error) {
	path := c.ResolvePath(tenantId)
	if cached, ok := c.cache.Get(path); ok {
		return &cached, nil
	}
	descriptor, err := c.getAt(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(path, *descriptor, 1, 1*time.Hour)
	return descriptor, nil
}

// getAt reads and decodes a descriptor at an explicit path. Also used by
// the redis prefix strategy for its shared (non-tenant) descriptor.
func (c *credentialManagerImpl) getAt(ctx context.Context, path string) (*f.ConnectionDescriptor, error) {
	value, err := c.secrets.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	var descriptor f.ConnectionDescriptor
	if err := h.FromJsonString(value, &descriptor); err != nil {
		// a corrupt descriptor means silent misrouting of tenant traffic,
		// so this surfaces instead of falling back to defaults
		log.Error("malformed connection descriptor at %s: %v", path, err)
		return nil, errors.MalformedSecret(path, err)
	}
	return &descriptor, nil
}

func (c *credentialManagerImpl) storeAt(ctx context.Context, path string, descriptor f.ConnectionDescriptor) error {
	value, err := h.ToJsonString(descriptor)
	if err != nil {
		return err
	}
	if err := c.secrets.CreateSecret(ctx, path, value); err != nil {
		return err
	}
	c.cache.Del(path)
	return nil
}

func (c *credentialManagerImpl) GeneratePassword(length int) (string, error) {
	return c.passwordGen(length)
}
