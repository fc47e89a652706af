package adapters

import (
	"context"
	"io/fs"
	"sync"

	"github.com/soffa-projects/tenancy-go/config"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
	"github.com/uptrace/bun"
)

const schemaStrategy = "schema"

type SchemaConfig struct {
	URL     string        `validate:"required"`
	Secrets f.SecretStore `validate:"required"`
	Id      string
	// SchemaPrefix is prepended to the tenant id to form the schema name.
	// Defaults to tenant_.
	SchemaPrefix string
	// RolePrefix names the per-tenant login role. Defaults to SchemaPrefix.
	RolePrefix string
	PoolMode   string
	Pattern    string
	PasswordGenerator f.PasswordGenerator
	// MigrationsFS, when set, runs goose migrations inside each newly
	// created schema (MigrationsDir defaults to db/migrations/tenant).
	MigrationsFS  fs.FS
	MigrationsDir string
}

func (cfg *SchemaConfig) defaults() {
	if cfg.SchemaPrefix == "" {
		cfg.SchemaPrefix = "tenant_"
	}
	if cfg.RolePrefix == "" {
		cfg.RolePrefix = cfg.SchemaPrefix
	}
	if cfg.PoolMode == "" {
		cfg.PoolMode = string(f.SessionMode)
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "db/migrations/tenant"
	}
}

// SchemaManagement provisions schema-per-tenant isolation: a schema plus a
// dedicated login role per tenant, with default privileges set up so
// future objects stay reachable.
type SchemaManagement struct {
	cfg      SchemaConfig
	admin    *bun.DB
	creds    f.CredentialManager
	template f.ConnectionDescriptor
	// openMigrationDB opens a pinned single-connection pool with the
	// tenant schema as its search_path
	openMigrationDB func(schemaName string) *bun.DB
	migrateUp       func(db *bun.DB, dir string) error

	// goose keeps package-level state, so tenant migrations run one at a time
	migrateMu sync.Mutex
}

func NewSchemaResource(cfg SchemaConfig) (*SchemaManagement, *PGTenants, error) {
	cfg.defaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, nil, errors.Configuration("invalid schema config: %v", err)
	}
	if _, err := f.ParsePoolMode(cfg.PoolMode); err != nil {
		return nil, nil, err
	}
	template, err := DescriptorFromURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Configuration("invalid schema url: %v", err)
	}
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets:           cfg.Secrets,
		Kind:              "postgres",
		ResourceId:        cfg.Id,
		Pattern:           cfg.Pattern,
		PasswordGenerator: cfg.PasswordGenerator,
	})
	management := &SchemaManagement{
		cfg:      cfg,
		admin:    OpenPool(cfg.URL),
		creds:    creds,
		template: template,
	}
	management.openMigrationDB = func(schemaName string) *bun.DB {
		return OpenMigrationPool(cfg.URL, schemaName)
	}
	management.migrateUp = func(db *bun.DB, dir string) error {
		return gooseUp(db, cfg.MigrationsFS, dir)
	}
	tenants := newPGTenants(schemaStrategy, creds, func(_ string, d f.ConnectionDescriptor) binding {
		return binding{
			role:     d.User,
			settings: []sessionSetting{{name: "search_path", value: d.Schema}},
		}
	})
	return management, tenants, nil
}

// CreateTenant creates the schema and its login role inside one
// transaction: either the tenant exists completely or not at all. Not
// idempotent: a second call for the same id surfaces the duplicate DDL
// error.
func (m *SchemaManagement) CreateTenant(ctx context.Context, tenantId string) (*f.ProvisionResult, error) {
	schemaName := m.cfg.SchemaPrefix + tenantId
	roleName := m.cfg.RolePrefix + tenantId
	password, err := m.creds.GeneratePassword(0)
	if err != nil {
		return nil, errors.Provisioning(tenantId, "generate password", err)
	}

	schema := h.QuoteIdent(schemaName)
	role := h.QuoteIdent(roleName)
	statements := []string{
		"CREATE SCHEMA " + schema,
		"CREATE ROLE " + role + " LOGIN PASSWORD " + h.QuoteLiteral(password),
		"REVOKE ALL ON SCHEMA public FROM " + role,
		"GRANT USAGE, CREATE ON SCHEMA " + schema + " TO " + role,
		"GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA " + schema + " TO " + role,
		"GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA " + schema + " TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA " + schema + " GRANT ALL PRIVILEGES ON TABLES TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA " + schema + " GRANT ALL PRIVILEGES ON SEQUENCES TO " + role,
	}
	err = m.admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metricProvisionFailures.WithLabelValues(schemaStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "create schema", err)
	}

	if m.cfg.MigrationsFS != nil {
		if err := m.migrate(schemaName); err != nil {
			metricProvisionFailures.WithLabelValues(schemaStrategy).Inc()
			return nil, errors.Provisioning(tenantId, "migrate schema", err)
		}
	}

	descriptor := m.template
	descriptor.User = roleName
	descriptor.Password = password
	descriptor.Schema = schemaName
	descriptor.PoolMode = m.cfg.PoolMode
	if err := m.creds.Store(ctx, tenantId, descriptor); err != nil {
		metricProvisionFailures.WithLabelValues(schemaStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "store credentials", err)
	}
	metricTenantsProvisioned.WithLabelValues(schemaStrategy).Inc()
	log.Tenant(tenantId).Infof("provisioned schema %s", schemaName)
	return &f.ProvisionResult{TenantId: tenantId, Descriptor: descriptor}, nil
}

// migrate runs goose through a dedicated single-connection pool whose
// search_path is the tenant schema. A session-level SET on the shared
// admin pool would land on one arbitrary connection while goose checks
// out others, so the schema is bound at connection startup instead.
func (m *SchemaManagement) migrate(schemaName string) error {
	m.migrateMu.Lock()
	defer m.migrateMu.Unlock()
	db := m.openMigrationDB(schemaName)
	defer func() { _ = db.Close() }()
	return m.migrateUp(db, m.cfg.MigrationsDir)
}

// DeleteTenant drops the schema with everything in it, then the role. Any
// cached pool for the tenant is invalid afterwards; callers close it via
// the tenants half.
func (m *SchemaManagement) DeleteTenant(ctx context.Context, tenantId string) error {
	schema := h.QuoteIdent(m.cfg.SchemaPrefix + tenantId)
	role := h.QuoteIdent(m.cfg.RolePrefix + tenantId)
	if _, err := m.admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
		return errors.Provisioning(tenantId, "drop schema", err)
	}
	// default privileges granted at creation keep the role referenced
	if _, err := m.admin.ExecContext(ctx, "DROP OWNED BY "+role); err != nil {
		log.Tenant(tenantId).Warnf("drop owned failed: %v", err)
	}
	if _, err := m.admin.ExecContext(ctx, "DROP ROLE IF EXISTS "+role); err != nil {
		return errors.Provisioning(tenantId, "drop role", err)
	}
	if err := m.creds.Remove(ctx, tenantId); err != nil {
		return err
	}
	metricTenantsDeleted.WithLabelValues(schemaStrategy).Inc()
	return nil
}

func (m *SchemaManagement) End() error {
	return m.admin.Close()
}
