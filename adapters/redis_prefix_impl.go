package adapters

import (
	"context"

	"github.com/soffa-projects/tenancy-go/config"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
)

const redisPrefixStrategy = "redis_prefix"

type RedisPrefixConfig struct {
	URL     string        `validate:"required"`
	Secrets f.SecretStore `validate:"required"`
	Id      string
	// KeyPrefix is the namespace root shared by all tenants. Defaults to
	// tenant:.
	KeyPrefix string
	// SharedUser is the single ACL user every tenant client authenticates
	// as. Defaults to tenant_app.
	SharedUser string
	// SharedPattern is the secret path for the shared user's descriptor
	// (not a per-tenant path).
	SharedPattern     string
	Pattern           string
	PasswordGenerator f.PasswordGenerator
}

func (cfg *RedisPrefixConfig) defaults() {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tenant:"
	}
	if cfg.SharedUser == "" {
		cfg.SharedUser = "tenant_app"
	}
	if cfg.SharedPattern == "" {
		if cfg.Id != "" {
			cfg.SharedPattern = "/shared/redis/{resourceId}/connection"
		} else {
			cfg.SharedPattern = "/shared/redis/connection"
		}
	}
}

// RedisPrefixManagement provisions prefix isolation: one shared ACL user
// restricted to the namespace root, per-tenant isolation enforced purely
// by the client-side key prefix.
type RedisPrefixManagement struct {
	cfg        RedisPrefixConfig
	admin      redisConn
	creds      *credentialManagerImpl
	template   f.ConnectionDescriptor
	sharedPath string
}

func NewRedisPrefixResource(cfg RedisPrefixConfig) (*RedisPrefixManagement, *RedisTenants, error) {
	cfg.defaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, nil, errors.Configuration("invalid redis prefix config: %v", err)
	}
	template, err := RedisDescriptorFromURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Configuration("invalid redis url: %v", err)
	}
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets:           cfg.Secrets,
		Kind:              "redis",
		ResourceId:        cfg.Id,
		Pattern:           cfg.Pattern,
		PasswordGenerator: cfg.PasswordGenerator,
	}).(*credentialManagerImpl)
	management := &RedisPrefixManagement{
		cfg:        cfg,
		admin:      NewRedisClient(template),
		creds:      creds,
		template:   template,
		sharedPath: h.ReplacePlaceholder(cfg.SharedPattern, "resourceId", cfg.Id),
	}
	return management, newRedisTenants(redisPrefixStrategy, creds), nil
}

// Setup creates (or refreshes) the shared ACL user restricted to the
// namespace root, all commands except the dangerous category, and stores
// its descriptor at the shared path. ACL SETUSER is an upsert, so Setup is
// idempotent.
func (m *RedisPrefixManagement) Setup(ctx context.Context) (*SetupResult, error) {
	password, err := m.creds.GeneratePassword(0)
	if err != nil {
		return nil, err
	}
	args := buildACLSetUserArgs(m.cfg.SharedUser, password, m.cfg.KeyPrefix+"*", false)
	if err := m.admin.Do(ctx, args...).Err(); err != nil {
		return nil, errors.Provisioning("", "acl setuser "+m.cfg.SharedUser, err)
	}
	descriptor := m.template
	descriptor.User = m.cfg.SharedUser
	descriptor.Password = password
	if err := m.creds.storeAt(ctx, m.sharedPath, descriptor); err != nil {
		return nil, err
	}
	log.Info("[redis-prefix] shared user %s restricted to %s*", m.cfg.SharedUser, m.cfg.KeyPrefix)
	return &SetupResult{}, nil
}

// CreateTenant derives the tenant descriptor from the shared user's: same
// identity, tenant-specific key prefix. Setup must have run first.
func (m *RedisPrefixManagement) CreateTenant(ctx context.Context, tenantId string) (*f.ProvisionResult, error) {
	shared, err := m.creds.getAt(ctx, m.sharedPath)
	if err != nil {
		if errors.IsKind(err, errors.KindSecretNotFound) {
			return nil, errors.Configuration("shared redis user is not provisioned, run Setup first")
		}
		return nil, err
	}
	descriptor := *shared
	descriptor.KeyPrefix = m.cfg.KeyPrefix + tenantId + ":"
	if err := m.creds.Store(ctx, tenantId, descriptor); err != nil {
		metricProvisionFailures.WithLabelValues(redisPrefixStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "store credentials", err)
	}
	metricTenantsProvisioned.WithLabelValues(redisPrefixStrategy).Inc()
	return &f.ProvisionResult{TenantId: tenantId, Descriptor: descriptor}, nil
}

// DeleteTenant removes the tenant's keys and descriptor. The shared user
// stays: other tenants depend on it.
func (m *RedisPrefixManagement) DeleteTenant(ctx context.Context, tenantId string) error {
	prefix := m.cfg.KeyPrefix + tenantId + ":"
	deleted, err := deleteKeysByPattern(ctx, m.admin, prefix+"*")
	if err != nil {
		return errors.Provisioning(tenantId, "delete keys", err)
	}
	log.Tenant(tenantId).Debugf("deleted %d keys under %s", deleted, prefix)
	if err := m.creds.Remove(ctx, tenantId); err != nil {
		return err
	}
	metricTenantsDeleted.WithLabelValues(redisPrefixStrategy).Inc()
	return nil
}

func (m *RedisPrefixManagement) End() error {
	return m.admin.Close()
}
