package adapters

import (
	"context"

	"github.com/soffa-projects/tenancy-go/config"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/log"
)

const redisACLStrategy = "redis_acl"

type RedisACLConfig struct {
	// URL is the administrative connection; the user must be allowed to run
	// ACL commands.
	URL     string        `validate:"required"`
	Secrets f.SecretStore `validate:"required"`
	Id      string
	// KeyPrefix is the namespace root; each tenant gets
	// <KeyPrefix><tenantId>:. Defaults to tenant:.
	KeyPrefix string
	// EnableDangerousCommands lifts the -@dangerous restriction (KEYS,
	// FLUSHALL, CONFIG, ...) on tenant users. Off by default.
	EnableDangerousCommands bool
	Pattern                 string
	PasswordGenerator       f.PasswordGenerator
}

func (cfg *RedisACLConfig) defaults() {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tenant:"
	}
}

// RedisACLManagement provisions one ACL user per tenant, scoped to the
// tenant's key prefix.
type RedisACLManagement struct {
	cfg      RedisACLConfig
	admin    redisConn
	creds    f.CredentialManager
	template f.ConnectionDescriptor
}

func NewRedisACLResource(cfg RedisACLConfig) (*RedisACLManagement, *RedisTenants, error) {
	cfg.defaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, nil, errors.Configuration("invalid redis acl config: %v", err)
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
	})
	management := &RedisACLManagement{
		cfg:      cfg,
		admin:    NewRedisClient(template),
		creds:    creds,
		template: template,
	}
	return management, newRedisTenants(redisACLStrategy, creds), nil
}

func (m *RedisACLManagement) tenantPrefix(tenantId string) string {
	return m.cfg.KeyPrefix + tenantId + ":"
}

// CreateTenant creates the tenant's ACL user (username = tenant id) scoped
// to the tenant key pattern, then persists the credentials.
func (m *RedisACLManagement) CreateTenant(ctx context.Context, tenantId string) (*f.ProvisionResult, error) {
	password, err := m.creds.GeneratePassword(0)
	if err != nil {
		return nil, errors.Provisioning(tenantId, "generate password", err)
	}
	prefix := m.tenantPrefix(tenantId)
	args := buildACLSetUserArgs(tenantId, password, prefix+"*", m.cfg.EnableDangerousCommands)
	if err := m.admin.Do(ctx, args...).Err(); err != nil {
		metricProvisionFailures.WithLabelValues(redisACLStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "acl setuser", err)
	}
	descriptor := m.template
	descriptor.User = tenantId
	descriptor.Password = password
	descriptor.KeyPrefix = prefix
	if err := m.creds.Store(ctx, tenantId, descriptor); err != nil {
		metricProvisionFailures.WithLabelValues(redisACLStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "store credentials", err)
	}
	metricTenantsProvisioned.WithLabelValues(redisACLStrategy).Inc()
	log.Tenant(tenantId).Infof("provisioned redis acl user for prefix %s", prefix)
	return &f.ProvisionResult{TenantId: tenantId, Descriptor: descriptor}, nil
}

// DeleteTenant deletes the tenant's keys BEFORE removing the ACL user:
// live tenant connections stay authenticated while their data drains, so a
// caller-held client observes the keyspace going empty instead of dying
// mid-read.
func (m *RedisACLManagement) DeleteTenant(ctx context.Context, tenantId string) error {
	prefix := m.tenantPrefix(tenantId)
	deleted, err := deleteKeysByPattern(ctx, m.admin, prefix+"*")
	if err != nil {
		return errors.Provisioning(tenantId, "delete keys", err)
	}
	log.Tenant(tenantId).Debugf("deleted %d keys under %s", deleted, prefix)
	if err := m.admin.Do(ctx, "ACL", "DELUSER", tenantId).Err(); err != nil {
		return errors.Provisioning(tenantId, "acl deluser", err)
	}
	if err := m.creds.Remove(ctx, tenantId); err != nil {
		return err
	}
	metricTenantsDeleted.WithLabelValues(redisACLStrategy).Inc()
	return nil
}

func (m *RedisACLManagement) End() error {
	return m.admin.Close()
}
