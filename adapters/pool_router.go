package adapters

import (
	"context"
	"database/sql"
	"sync"

	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
	"github.com/uptrace/bun"
)

// sessionSetting is a tenant-scoped GUC applied through set_config. The
// role binding is kept separate because SET ROLE has no set_config form.
type sessionSetting struct {
	name  string
	value string
}

type binding struct {
	role     string
	settings []sessionSetting
}

// bindingFunc derives the tenant-scoped settings from the stored
// descriptor. Each strategy supplies its own.
type bindingFunc func(tenantId string, d f.ConnectionDescriptor) binding

type tenantPool struct {
	db      *bun.DB
	mode    f.PoolMode
	binding binding
}

// PGTenants routes tenant traffic to tenant-scoped postgres pools. It owns
// the per-tenant pool map; pools are created lazily on first access, at
// most one per tenant, and live until End. Management pools are never
// handed out here.
type PGTenants struct {
	strategy string
	creds    f.CredentialManager
	bind     bindingFunc
	open     func(f.ConnectionDescriptor) *bun.DB

	mu    sync.Mutex
	pools map[string]*tenantPool
}

func newPGTenants(strategy string, creds f.CredentialManager, bind bindingFunc) *PGTenants {
	return &PGTenants{
		strategy: strategy,
		creds:    creds,
		bind:     bind,
		open:     OpenDescriptorPool,
		pools:    make(map[string]*tenantPool),
	}
}

// getOrCreate holds the lock across lookup and creation, so two first
// callers for the same tenant cannot race two pools into existence.
// Opening a pool is cheap (pgdriver dials lazily), so serializing it is
// fine.
func (t *PGTenants) getOrCreate(ctx context.Context, tenantId string) (*tenantPool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pool, ok := t.pools[tenantId]; ok {
		return pool, nil
	}
	descriptor, err := t.creds.Get(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	mode, err := f.ParsePoolMode(descriptor.PoolMode)
	if err != nil {
		return nil, err
	}
	pool := &tenantPool{
		db:      t.open(*descriptor),
		mode:    mode,
		binding: t.bind(tenantId, *descriptor),
	}
	t.pools[tenantId] = pool
	metricPoolsOpened.WithLabelValues(t.strategy).Inc()
	log.Tenant(tenantId).Debugf("opened %s-mode pool", mode)
	return pool, nil
}

// GetClientFor returns a tenant-scoped client. In session mode the client
// wraps a checked-out connection with the tenant settings applied for its
// lifetime. In transaction mode the client wraps an OPEN transaction the
// caller must finish with Release (commit) or Abort (rollback); leaving it
// open wedges the pooled server connection.
func (t *PGTenants) GetClientFor(ctx context.Context, tenantId string) (*TenantClient, error) {
	pool, err := t.getOrCreate(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	switch pool.mode {
	case f.TransactionMode:
		tx, err := pool.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		if err := applyBinding(ctx, tx, pool.binding, true); err != nil {
			rollback(tenantId, tx)
			return nil, err
		}
		return &TenantClient{TenantId: tenantId, Mode: pool.mode, tx: &tx}, nil
	default:
		conn, err := pool.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		if err := applyBinding(ctx, conn, pool.binding, false); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &TenantClient{TenantId: tenantId, Mode: pool.mode, conn: &conn}, nil
	}
}

// ExecAs runs a single statement bound to the tenant. In transaction mode
// the statement is wrapped in BEGIN / transaction-local settings / COMMIT;
// on failure a rollback is attempted and the original error propagates.
func (t *PGTenants) ExecAs(ctx context.Context, tenantId string, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := t.runAs(ctx, tenantId, func(db bun.IDB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// QueryAs runs a query bound to the tenant and materializes the rows, so
// in transaction mode the COMMIT happens before the caller sees data.
func (t *PGTenants) QueryAs(ctx context.Context, tenantId string, query string, args ...any) ([]map[string]any, error) {
	var items []map[string]any
	err := t.runAs(ctx, tenantId, func(db bun.IDB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		items, err = collectRows(rows)
		return err
	})
	return items, err
}

// RunAs executes fn against a tenant-scoped bun.IDB, committing (or, in
// session mode, releasing the connection) when fn returns nil.
func (t *PGTenants) RunAs(ctx context.Context, tenantId string, fn func(db bun.IDB) error) error {
	return t.runAs(ctx, tenantId, fn)
}

func (t *PGTenants) runAs(ctx context.Context, tenantId string, fn func(db bun.IDB) error) error {
	pool, err := t.getOrCreate(ctx, tenantId)
	if err != nil {
		return err
	}
	switch pool.mode {
	case f.TransactionMode:
		tx, err := pool.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Transaction(tenantId, err)
		}
		if err := applyBinding(ctx, tx, pool.binding, true); err != nil {
			rollback(tenantId, tx)
			return errors.Transaction(tenantId, err)
		}
		if err := fn(tx); err != nil {
			rollback(tenantId, tx)
			return errors.Transaction(tenantId, err)
		}
		if err := tx.Commit(); err != nil {
			return errors.Transaction(tenantId, err)
		}
		return nil
	default:
		conn, err := pool.db.Conn(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		if err := applyBinding(ctx, conn, pool.binding, false); err != nil {
			return err
		}
		return fn(conn)
	}
}

// End closes the pools for the given tenants, or every pool when called
// with no arguments. Best-effort and idempotent.
func (t *PGTenants) End(tenantIds ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(tenantIds) == 0 {
		for id := range t.pools {
			tenantIds = append(tenantIds, id)
		}
	}
	var lastErr error
	for _, id := range tenantIds {
		pool, ok := t.pools[id]
		if !ok {
			continue
		}
		if err := pool.db.Close(); err != nil {
			log.Tenant(id).Warnf("failed to close pool: %v", err)
			lastErr = err
		}
		delete(t.pools, id)
		metricPoolsClosed.WithLabelValues(t.strategy).Inc()
	}
	return lastErr
}

func applyBinding(ctx context.Context, db bun.IDB, b binding, local bool) error {
	for _, s := range b.settings {
		if _, err := db.ExecContext(ctx, "SELECT set_config(?, ?, ?)", s.name, s.value, local); err != nil {
			return err
		}
	}
	if b.role != "" {
		stmt := "SET ROLE " + h.QuoteIdent(b.role)
		if local {
			stmt = "SET LOCAL ROLE " + h.QuoteIdent(b.role)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rollback failures are logged, never masked: the original error is what
// the caller needs to see.
func rollback(tenantId string, tx bun.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Tenant(tenantId).Warnf("rollback failed: %v", err)
	}
}

// ------------------------------------------------------------------------------------------------------------------
// TENANT CLIENT
// ------------------------------------------------------------------------------------------------------------------

// TenantClient is a tenant-bound handle. Session mode: a checked-out
// connection with durable settings; Release returns it to the pool.
// Transaction mode: an open transaction with transaction-local settings;
// Release commits, Abort rolls back.
type TenantClient struct {
	TenantId string
	Mode     f.PoolMode
	conn     *bun.Conn
	tx       *bun.Tx
	done     bool
}

// IDB exposes the underlying bun handle for query building.
func (c *TenantClient) IDB() bun.IDB {
	if c.tx != nil {
		return *c.tx
	}
	return *c.conn
}

func (c *TenantClient) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.IDB().ExecContext(ctx, query, args...)
}

func (c *TenantClient) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.IDB().QueryContext(ctx, query, args...)
}

func (c *TenantClient) Release() error {
	if c.done {
		return nil
	}
	c.done = true
	if c.tx != nil {
		return c.tx.Commit()
	}
	return c.conn.Close()
}

func (c *TenantClient) Abort() error {
	if c.done {
		return nil
	}
	c.done = true
	if c.tx != nil {
		return c.tx.Rollback()
	}
	return c.conn.Close()
}
