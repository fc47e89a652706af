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

const databaseStrategy = "database"

type DatabaseConfig struct {
	URL     string        `validate:"required"`
	Secrets f.SecretStore `validate:"required"`
	Id      string
	// DatabasePrefix is prepended to the tenant id to form the database
	// name. Defaults to tenant_.
	DatabasePrefix string
	// RolePrefix names the per-tenant login role. Defaults to DatabasePrefix.
	RolePrefix string
	// Template clones the new database from an existing one.
	Template string
	// Schemas to grant inside the new database. Defaults to public.
	Schemas []string
	// ForceDrop terminates live sessions when dropping the database.
	ForceDrop bool
	// PoolMode must be session: database DDL cannot run through a
	// transaction-pooling proxy, so both halves reject transaction mode.
	PoolMode          string
	Pattern           string
	PasswordGenerator f.PasswordGenerator
	MigrationsFS      fs.FS
	MigrationsDir     string
}

func (cfg *DatabaseConfig) defaults() {
	if cfg.DatabasePrefix == "" {
		cfg.DatabasePrefix = "tenant_"
	}
	if cfg.RolePrefix == "" {
		cfg.RolePrefix = cfg.DatabasePrefix
	}
	if cfg.PoolMode == "" {
		cfg.PoolMode = string(f.SessionMode)
	}
	if len(cfg.Schemas) == 0 {
		cfg.Schemas = []string{"public"}
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "db/migrations/tenant"
	}
}

// DatabaseManagement provisions database-per-tenant isolation: a dedicated
// database and login role per tenant.
type DatabaseManagement struct {
	cfg      DatabaseConfig
	admin    *bun.DB
	creds    f.CredentialManager
	template f.ConnectionDescriptor
	// openTenantDB connects into a freshly created tenant database for
	// grants and migrations
	openTenantDB func(f.ConnectionDescriptor) *bun.DB

	migrateMu sync.Mutex
}

func NewDatabaseResource(cfg DatabaseConfig) (*DatabaseManagement, *PGTenants, error) {
	cfg.defaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, nil, errors.Configuration("invalid database config: %v", err)
	}
	mode, err := f.ParsePoolMode(cfg.PoolMode)
	if err != nil {
		return nil, nil, err
	}
	if mode == f.TransactionMode {
		return nil, nil, errors.Configuration(
			"database isolation cannot run behind a transaction-pooling proxy: CREATE/DROP DATABASE cannot execute inside a pooled transaction")
	}
	template, err := DescriptorFromURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Configuration("invalid database url: %v", err)
	}
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets:           cfg.Secrets,
		Kind:              "postgres",
		ResourceId:        cfg.Id,
		Pattern:           cfg.Pattern,
		PasswordGenerator: cfg.PasswordGenerator,
	})
	management := &DatabaseManagement{
		cfg:          cfg,
		admin:        OpenPool(cfg.URL),
		creds:        creds,
		template:     template,
		openTenantDB: OpenDescriptorPool,
	}
	// isolation is the database boundary itself, no session binding needed
	tenants := newPGTenants(databaseStrategy, creds, func(string, f.ConnectionDescriptor) binding {
		return binding{}
	})
	return management, tenants, nil
}

// CreateTenant creates the tenant database and role. CREATE DATABASE is
// not transactional: a failure after it leaves an orphaned database that
// is surfaced as a ProvisioningFailure and never rolled back silently.
func (m *DatabaseManagement) CreateTenant(ctx context.Context, tenantId string) (*f.ProvisionResult, error) {
	dbName := m.cfg.DatabasePrefix + tenantId
	roleName := m.cfg.RolePrefix + tenantId
	password, err := m.creds.GeneratePassword(0)
	if err != nil {
		return nil, errors.Provisioning(tenantId, "generate password", err)
	}

	createDB := "CREATE DATABASE " + h.QuoteIdent(dbName)
	if m.cfg.Template != "" {
		createDB += " TEMPLATE " + h.QuoteIdent(m.cfg.Template)
	}
	if _, err := m.admin.ExecContext(ctx, createDB); err != nil {
		metricProvisionFailures.WithLabelValues(databaseStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "create database", err)
	}

	role := h.QuoteIdent(roleName)
	statements := []string{
		"CREATE ROLE " + role + " LOGIN PASSWORD " + h.QuoteLiteral(password),
		"GRANT ALL PRIVILEGES ON DATABASE " + h.QuoteIdent(dbName) + " TO " + role,
	}
	for _, stmt := range statements {
		if _, err := m.admin.ExecContext(ctx, stmt); err != nil {
			metricProvisionFailures.WithLabelValues(databaseStrategy).Inc()
			return nil, errors.Provisioning(tenantId, "create role (database "+dbName+" is orphaned, clean up manually)", err)
		}
	}

	// schema grants have to run inside the new database; GRANT and ALTER
	// DEFAULT PRIVILEGES take identifier lists, so all schemas go in one
	// statement each
	tenantDescriptor := m.template
	tenantDescriptor.Database = dbName
	adminInTenantDB := m.openTenantDB(tenantDescriptor)
	defer func() { _ = adminInTenantDB.Close() }()
	schemas := h.JoinIdents(m.cfg.Schemas)
	grants := []string{
		"GRANT USAGE, CREATE ON SCHEMA " + schemas + " TO " + role,
		"GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA " + schemas + " TO " + role,
		"GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA " + schemas + " TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA " + schemas + " GRANT ALL PRIVILEGES ON TABLES TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA " + schemas + " GRANT ALL PRIVILEGES ON SEQUENCES TO " + role,
	}
	for _, stmt := range grants {
		if _, err := adminInTenantDB.ExecContext(ctx, stmt); err != nil {
			metricProvisionFailures.WithLabelValues(databaseStrategy).Inc()
			return nil, errors.Provisioning(tenantId, "grant on "+dbName+" (database is orphaned, clean up manually)", err)
		}
	}

	if m.cfg.MigrationsFS != nil {
		if err := m.migrate(adminInTenantDB); err != nil {
			metricProvisionFailures.WithLabelValues(databaseStrategy).Inc()
			return nil, errors.Provisioning(tenantId, "migrate database "+dbName, err)
		}
	}

	descriptor := m.template
	descriptor.User = roleName
	descriptor.Password = password
	descriptor.Database = dbName
	descriptor.PoolMode = m.cfg.PoolMode
	if err := m.creds.Store(ctx, tenantId, descriptor); err != nil {
		metricProvisionFailures.WithLabelValues(databaseStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "store credentials", err)
	}
	metricTenantsProvisioned.WithLabelValues(databaseStrategy).Inc()
	log.Tenant(tenantId).Infof("provisioned database %s", dbName)
	return &f.ProvisionResult{TenantId: tenantId, Descriptor: descriptor}, nil
}

func (m *DatabaseManagement) migrate(db *bun.DB) error {
	m.migrateMu.Lock()
	defer m.migrateMu.Unlock()
	return gooseUp(db, m.cfg.MigrationsFS, m.cfg.MigrationsDir)
}

// DeleteTenant drops the database, then the role. The database goes first:
// its grants reference the role and would block DROP ROLE. ForceDrop
// terminates sessions still connected to the tenant database.
func (m *DatabaseManagement) DeleteTenant(ctx context.Context, tenantId string) error {
	dbName := m.cfg.DatabasePrefix + tenantId
	roleName := m.cfg.RolePrefix + tenantId

	dropDB := "DROP DATABASE IF EXISTS " + h.QuoteIdent(dbName)
	if m.cfg.ForceDrop {
		dropDB += " WITH (FORCE)"
	}
	if _, err := m.admin.ExecContext(ctx, dropDB); err != nil {
		return errors.Provisioning(tenantId, "drop database", err)
	}
	if roleName != m.template.User {
		if _, err := m.admin.ExecContext(ctx, "DROP ROLE IF EXISTS "+h.QuoteIdent(roleName)); err != nil {
			return errors.Provisioning(tenantId, "drop role", err)
		}
	}
	if err := m.creds.Remove(ctx, tenantId); err != nil {
		return err
	}
	metricTenantsDeleted.WithLabelValues(databaseStrategy).Inc()
	return nil
}

func (m *DatabaseManagement) End() error {
	return m.admin.Close()
}
