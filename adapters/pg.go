package adapters

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenPool opens a lazy postgres pool. pgdriver does not dial until the
// first query, so this never fails.
func OpenPool(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func OpenDescriptorPool(d f.ConnectionDescriptor) *bun.DB {
	return OpenPool(d.DSN())
}

// DescriptorFromURL splits a postgres:// URL into descriptor fields, so a
// resource configured with a plain DSN can mint tenant descriptors from it.
func DescriptorFromURL(dsn string) (f.ConnectionDescriptor, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return f.ConnectionDescriptor{}, fmt.Errorf("invalid postgres url: %w", err)
	}
	if !h.Contains([]string{"postgres", "postgresql"}, u.Scheme) {
		return f.ConnectionDescriptor{}, fmt.Errorf("invalid postgres url scheme: %s", u.Scheme)
	}
	port := 5432
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return f.ConnectionDescriptor{}, fmt.Errorf("invalid postgres port: %w", err)
		}
	}
	password, _ := u.User.Password()
	return f.ConnectionDescriptor{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		Database: strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// SQLSTATE codes this layer reacts to.
const (
	pgDuplicateObject   = "42710"
	pgDuplicateSchema   = "42P06"
	pgDuplicateDatabase = "42P04"
)

func pgErrorCode(err error) string {
	var pgErr pgdriver.Error
	if stderrors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func isDuplicateErr(err error) bool {
	switch pgErrorCode(err) {
	case pgDuplicateObject, pgDuplicateSchema, pgDuplicateDatabase:
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

// collectRows materializes a result set into generic maps so transaction
// wrappers can COMMIT before handing rows to the caller.
func collectRows(rows *sql.Rows) ([]map[string]any, error) {
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		item := make(map[string]any, len(columns))
		for i, col := range columns {
			item[col] = values[i]
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
