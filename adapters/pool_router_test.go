package adapters

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/test"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// newMockTenants wires a router to a sqlmock-backed pool. bun inlines
// placeholder arguments client-side, so expectations match the fully
// formatted SQL text.
func newMockTenants(t *testing.T, poolMode string, bind bindingFunc) (*PGTenants, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	secrets := NewMemorySecretStore()
	creds := NewCredentialManager(CredentialManagerConfig{Secrets: secrets, Kind: "postgres"})
	err = creds.Store(context.Background(), "acme", f.ConnectionDescriptor{
		Host:     "localhost",
		Port:     5432,
		User:     "tenant_user",
		Password: "pw",
		Database: "app",
		PoolMode: poolMode,
	})
	if err != nil {
		t.Fatal(err)
	}
	tenants := newPGTenants("rls", creds, bind)
	tenants.open = func(f.ConnectionDescriptor) *bun.DB {
		return bun.NewDB(mockDB, pgdialect.New())
	}
	return tenants, mock
}

func rlsBinding(tenantId string, _ f.ConnectionDescriptor) binding {
	return binding{
		role:     "tenant_user",
		settings: []sessionSetting{{name: "app.current_tenant", value: tenantId}},
	}
}

func TestExecAs_TransactionMode(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE orders SET status = 'paid' WHERE id = 42`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := tenants.ExecAs(context.Background(), "acme",
		"UPDATE orders SET status = ? WHERE id = ?", "paid", 42)

	assert.Nil(err)
	assert.Nil(mock.ExpectationsWereMet())
}

func TestExecAs_SessionMode(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "session", rlsBinding)

	// no BEGIN/COMMIT: settings are applied durably on the checked-out
	// connection
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', FALSE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM sessions`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	_, err := tenants.ExecAs(context.Background(), "acme", "DELETE FROM sessions")

	assert.Nil(err)
	assert.Nil(mock.ExpectationsWereMet())
}

func TestQueryAs_MaterializesBeforeCommit(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alpha").
			AddRow(int64(2), "beta"))
	mock.ExpectCommit()

	rows, err := tenants.QueryAs(context.Background(), "acme", "SELECT id, name FROM customers")

	assert.Nil(err)
	assert.Len(rows, 2)
	assert.Equals(rows[0]["name"], "alpha")
	assert.Equals(rows[1]["id"], int64(2))
	assert.Nil(mock.ExpectationsWereMet())
}

func TestRunAs_RollbackKeepsOriginalError(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)
	boom := stderrors.New("deadlock detected")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO orders DEFAULT VALUES`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := tenants.ExecAs(context.Background(), "acme", "INSERT INTO orders DEFAULT VALUES")

	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindTransaction))
	assert.True(errors.Is(err, boom))
	assert.Nil(mock.ExpectationsWereMet())
}

func TestRunAs_RollbackFailureDoesNotMaskError(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)
	boom := stderrors.New("constraint violated")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO orders DEFAULT VALUES`).WillReturnError(boom)
	mock.ExpectRollback().WillReturnError(stderrors.New("connection gone"))

	_, err := tenants.ExecAs(context.Background(), "acme", "INSERT INTO orders DEFAULT VALUES")

	assert.NotNil(err)
	assert.True(errors.Is(err, boom))
	assert.Nil(mock.ExpectationsWereMet())
}

func TestGetClientFor_TransactionMode(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO audit (event) VALUES ('login')`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	client, err := tenants.GetClientFor(context.Background(), "acme")
	assert.Nil(err)
	assert.Equals(client.Mode, f.TransactionMode)

	_, err = client.Exec(context.Background(), "INSERT INTO audit (event) VALUES (?)", "login")
	assert.Nil(err)

	assert.Nil(client.Release())
	// Release is idempotent
	assert.Nil(client.Release())
	assert.Nil(mock.ExpectationsWereMet())
}

func TestGetClientFor_Abort(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "transaction", rlsBinding)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config('app.current_tenant', 'acme', TRUE)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL ROLE "tenant_user"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	client, err := tenants.GetClientFor(context.Background(), "acme")
	assert.Nil(err)

	assert.Nil(client.Abort())
	assert.Nil(mock.ExpectationsWereMet())
}

func TestGetOrCreate_SinglePoolPerTenant(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "session", func(string, f.ConnectionDescriptor) binding {
		return binding{}
	})
	opens := 0
	inner := tenants.open
	tenants.open = func(d f.ConnectionDescriptor) *bun.DB {
		opens++
		return inner(d)
	}

	mock.ExpectExec(`SELECT 1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT 1`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := tenants.ExecAs(context.Background(), "acme", "SELECT 1")
	assert.Nil(err)
	_, err = tenants.ExecAs(context.Background(), "acme", "SELECT 1")
	assert.Nil(err)

	assert.Equals(opens, 1)
	assert.Nil(mock.ExpectationsWereMet())
}

func TestGetOrCreate_ConcurrentFirstAccess(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, _ := newMockTenants(t, "session", rlsBinding)
	opens := 0
	inner := tenants.open
	// the counter is mutated under the router mutex
	tenants.open = func(d f.ConnectionDescriptor) *bun.DB {
		opens++
		return inner(d)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tenants.getOrCreate(context.Background(), "acme")
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equals(opens, 1)
}

func TestExecAs_UnknownTenant(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, _ := newMockTenants(t, "session", rlsBinding)

	_, err := tenants.ExecAs(context.Background(), "ghost", "SELECT 1")

	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindSecretNotFound))
}

func TestExecAs_InvalidPoolMode(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, _ := newMockTenants(t, "statement", rlsBinding)

	_, err := tenants.ExecAs(context.Background(), "acme", "SELECT 1")

	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindConfiguration))
}

func TestEnd_Idempotent(t *testing.T) {
	assert := test.NewAssertions(t)
	tenants, mock := newMockTenants(t, "session", func(string, f.ConnectionDescriptor) binding {
		return binding{}
	})

	mock.ExpectExec(`SELECT 1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	_, err := tenants.ExecAs(context.Background(), "acme", "SELECT 1")
	assert.Nil(err)

	assert.Nil(tenants.End())
	assert.Nil(tenants.End())
	assert.Nil(tenants.End("never-seen"))
	assert.Nil(mock.ExpectationsWereMet())
}
