package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/soffa-projects/tenancy-go/config"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
	"github.com/uptrace/bun"
)

const rlsStrategy = "rls"

type RLSTable struct {
	Name string `validate:"required"`
	// Schema defaults to public.
	Schema string
	// TenantColumn defaults to tenant_id.
	TenantColumn string
}

type RLSConfig struct {
	// URL is the administrative connection; it provisions policies and also
	// serves as the template for tenant descriptors (RLS tenants share the
	// database, isolation happens per session).
	URL     string        `validate:"required"`
	Secrets f.SecretStore `validate:"required"`
	// Id disambiguates several postgres resources sharing one secret store.
	Id     string
	Tables []RLSTable
	// RoleName is the single shared low-privilege role tenant sessions
	// switch to. Defaults to tenant_user.
	RoleName string
	// SessionVar is the GUC the policies compare the tenant column with.
	// Defaults to app.current_tenant.
	SessionVar string
	// AutoSetup discovers tables carrying the tenant column without RLS and
	// runs Setup on them during the first CreateTenant.
	AutoSetup bool
	// ForceRLSOnTableOwner applies the policies to the table owner too.
	ForceRLSOnTableOwner bool
	// PoolMode tags tenant pools: session (default) or transaction when a
	// transaction-pooling proxy sits in front of postgres.
	PoolMode string
	// Pattern overrides the secret path pattern.
	Pattern           string
	PasswordGenerator f.PasswordGenerator
}

func (cfg *RLSConfig) defaults() {
	if cfg.RoleName == "" {
		cfg.RoleName = "tenant_user"
	}
	if cfg.SessionVar == "" {
		cfg.SessionVar = "app.current_tenant"
	}
	if cfg.PoolMode == "" {
		cfg.PoolMode = string(f.SessionMode)
	}
}

// RLSManagement provisions row-level-security isolation: one shared
// low-privilege role plus per-table policies comparing the tenant column
// against a session variable.
type RLSManagement struct {
	cfg      RLSConfig
	admin    *bun.DB
	creds    f.CredentialManager
	template f.ConnectionDescriptor

	mu            sync.Mutex
	autoSetupDone bool
}

// NewRLSResource returns the management and tenants halves of an RLS
// resource. Both share the same resource id and secret path pattern.
func NewRLSResource(cfg RLSConfig) (*RLSManagement, *PGTenants, error) {
	cfg.defaults()
	if err := config.Validate(&cfg); err != nil {
		return nil, nil, errors.Configuration("invalid rls config: %v", err)
	}
	if _, err := f.ParsePoolMode(cfg.PoolMode); err != nil {
		return nil, nil, err
	}
	template, err := DescriptorFromURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Configuration("invalid rls url: %v", err)
	}
	template.PoolMode = cfg.PoolMode
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets:           cfg.Secrets,
		Kind:              "postgres",
		ResourceId:        cfg.Id,
		Pattern:           cfg.Pattern,
		PasswordGenerator: cfg.PasswordGenerator,
	})
	management := &RLSManagement{
		cfg:      cfg,
		admin:    OpenPool(cfg.URL),
		creds:    creds,
		template: template,
	}
	tenants := newPGTenants(rlsStrategy, creds, func(tenantId string, _ f.ConnectionDescriptor) binding {
		return binding{
			role:     cfg.RoleName,
			settings: []sessionSetting{{name: cfg.SessionVar, value: tenantId}},
		}
	})
	return management, tenants, nil
}

// SetupResult reports what Setup touched; degraded conditions land in
// Warnings instead of being lost to the logs.
type SetupResult struct {
	Tables   []string
	Warnings []string
}

// Setup enables RLS and creates the isolation policies on the given
// tables. Safe to call on an already-provisioned role (warning, not
// error); a pre-existing policy with the same name is a conflict and is
// never overwritten.
func (m *RLSManagement) Setup(ctx context.Context, tables ...RLSTable) (*SetupResult, error) {
	result := &SetupResult{}
	if err := m.ensureRole(ctx, result); err != nil {
		return nil, err
	}
	for _, table := range tables {
		table = m.fill(table)
		if err := m.setupTable(ctx, table); err != nil {
			return nil, err
		}
		result.Tables = append(result.Tables, table.Schema+"."+table.Name)
	}
	return result, nil
}

func (m *RLSManagement) ensureRole(ctx context.Context, result *SetupResult) error {
	_, err := m.admin.ExecContext(ctx, "CREATE ROLE "+h.QuoteIdent(m.cfg.RoleName)+" NOLOGIN")
	if err != nil {
		if !isDuplicateErr(err) {
			return err
		}
		warning := fmt.Sprintf("role %s already exists, reusing it", m.cfg.RoleName)
		result.Warnings = append(result.Warnings, warning)
		metricProvisionWarnings.WithLabelValues(rlsStrategy).Inc()
		log.Warn("[rls] %s", warning)
	}
	return nil
}

func (m *RLSManagement) setupTable(ctx context.Context, table RLSTable) error {
	qualified := h.QuoteIdent(table.Schema) + "." + h.QuoteIdent(table.Name)
	role := h.QuoteIdent(m.cfg.RoleName)

	readPolicy := table.Name + "_tenant_isolation"
	writePolicy := table.Name + "_tenant_insert"
	var conflicts int
	err := m.admin.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_policies WHERE schemaname = ? AND tablename = ? AND policyname IN (?, ?)",
		table.Schema, table.Name, readPolicy, writePolicy).Scan(&conflicts)
	if err != nil {
		return err
	}
	if conflicts > 0 {
		return errors.Configuration("a tenant isolation policy already exists on %s.%s", table.Schema, table.Name)
	}

	grants := []string{
		"GRANT USAGE ON SCHEMA " + h.QuoteIdent(table.Schema) + " TO " + role,
		"GRANT SELECT, INSERT, UPDATE, DELETE ON " + qualified + " TO " + role,
		"ALTER TABLE " + qualified + " ENABLE ROW LEVEL SECURITY",
	}
	if m.cfg.ForceRLSOnTableOwner {
		grants = append(grants, "ALTER TABLE "+qualified+" FORCE ROW LEVEL SECURITY")
	}
	check := fmt.Sprintf("%s::text = current_setting(%s)",
		h.QuoteIdent(table.TenantColumn), h.QuoteLiteral(m.cfg.SessionVar))
	grants = append(grants,
		"CREATE POLICY "+h.QuoteIdent(readPolicy)+" ON "+qualified+
			" FOR ALL TO "+role+" USING ("+check+")",
		"CREATE POLICY "+h.QuoteIdent(writePolicy)+" ON "+qualified+
			" FOR INSERT TO "+role+" WITH CHECK ("+check+")",
	)
	for _, stmt := range grants {
		if _, err := m.admin.ExecContext(ctx, stmt); err != nil {
			if isDuplicateErr(err) {
				return errors.Configuration("policy conflict on %s.%s: %v", table.Schema, table.Name, err)
			}
			return err
		}
	}
	return nil
}

// CreateTenant stores the tenant descriptor. With AutoSetup it first
// discovers unprotected tables carrying the tenant column and runs Setup
// on them; that pass runs at most once per resource instance.
func (m *RLSManagement) CreateTenant(ctx context.Context, tenantId string) (*f.ProvisionResult, error) {
	result := &f.ProvisionResult{TenantId: tenantId}
	if m.cfg.AutoSetup {
		if err := m.autoSetup(ctx, result); err != nil {
			metricProvisionFailures.WithLabelValues(rlsStrategy).Inc()
			return nil, errors.Provisioning(tenantId, "rls auto-setup", err)
		}
	}
	descriptor := m.template
	result.Descriptor = descriptor
	if err := m.creds.Store(ctx, tenantId, descriptor); err != nil {
		metricProvisionFailures.WithLabelValues(rlsStrategy).Inc()
		return nil, errors.Provisioning(tenantId, "store credentials", err)
	}
	metricTenantsProvisioned.WithLabelValues(rlsStrategy).Inc()
	return result, nil
}

func (m *RLSManagement) autoSetup(ctx context.Context, result *f.ProvisionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.autoSetupDone {
		return nil
	}
	tables, err := m.discoverTables(ctx, false)
	if err != nil {
		return err
	}
	if len(tables) > 0 {
		setup, err := m.Setup(ctx, tables...)
		if err != nil {
			return err
		}
		result.Warnings = append(result.Warnings, setup.Warnings...)
		log.Info("[rls] auto-setup protected %d tables", len(setup.Tables))
	}
	m.autoSetupDone = true
	return nil
}

// discoverTables lists regular tables carrying the tenant column, filtered
// on whether RLS is already enabled.
func (m *RLSManagement) discoverTables(ctx context.Context, withRLS bool) ([]RLSTable, error) {
	column := "tenant_id"
	if len(m.cfg.Tables) > 0 && m.cfg.Tables[0].TenantColumn != "" {
		column = m.cfg.Tables[0].TenantColumn
	}
	rows, err := m.admin.QueryContext(ctx, `
		SELECT n.nspname, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid
		WHERE c.relkind = 'r'
		  AND a.attname = ?
		  AND NOT a.attisdropped
		  AND c.relrowsecurity = ?
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')`,
		column, withRLS)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var tables []RLSTable
	for rows.Next() {
		var table RLSTable
		if err := rows.Scan(&table.Schema, &table.Name); err != nil {
			return nil, err
		}
		table.TenantColumn = column
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// DeleteTenant removes the tenant's rows inside a transaction that
// impersonates the tenant session, so the same policies that protect reads
// scope the delete. The shared role stays.
func (m *RLSManagement) DeleteTenant(ctx context.Context, tenantId string) error {
	tables := m.cfg.Tables
	if len(tables) == 0 {
		discovered, err := m.discoverTables(ctx, true)
		if err != nil {
			return errors.Provisioning(tenantId, "discover rls tables", err)
		}
		tables = discovered
	}
	err := m.admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT set_config(?, ?, true)", m.cfg.SessionVar, tenantId); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+h.QuoteIdent(m.cfg.RoleName)); err != nil {
			return err
		}
		for _, table := range tables {
			table = m.fill(table)
			qualified := h.QuoteIdent(table.Schema) + "." + h.QuoteIdent(table.Name)
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+qualified); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Provisioning(tenantId, "delete tenant rows", err)
	}
	if err := m.creds.Remove(ctx, tenantId); err != nil {
		return err
	}
	metricTenantsDeleted.WithLabelValues(rlsStrategy).Inc()
	return nil
}

func (m *RLSManagement) End() error {
	return m.admin.Close()
}

func (m *RLSManagement) fill(table RLSTable) RLSTable {
	if table.Schema == "" {
		table.Schema = "public"
	}
	if table.TenantColumn == "" {
		table.TenantColumn = "tenant_id"
	}
	return table
}
