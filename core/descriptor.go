package f

import (
	"fmt"
	"net/url"

	"github.com/soffa-projects/tenancy-go/errors"
)

// PoolMode tags a tenant pool with the pooling behavior of the proxy in
// front of it. Fixed for the lifetime of the pool.
type PoolMode string

const (
	// SessionMode: session-level settings survive across queries on the
	// same checked-out connection (plain Postgres, pgbouncer session pooling).
	SessionMode PoolMode = "session"
	// TransactionMode: the proxy hands the server connection back after
	// every transaction, so tenant-scoped settings only hold inside an
	// explicit transaction (pgbouncer transaction pooling).
	TransactionMode PoolMode = "transaction"
)

// ParsePoolMode rejects anything it does not recognize. An unknown mode is
// a configuration error, never a silent default: defaulting wrong here
// leaks session state across tenants.
func ParsePoolMode(value string) (PoolMode, error) {
	switch PoolMode(value) {
	case SessionMode, TransactionMode:
		return PoolMode(value), nil
	case "":
		return "", errors.Configuration("pool mode is missing from the connection descriptor")
	default:
		return "", errors.Configuration("invalid pool mode %q (expected %q or %q)", value, SessionMode, TransactionMode)
	}
}

// ConnectionDescriptor is the persisted record of how to reach one tenant's
// data on one resource. Stored as JSON in the secret store; the single
// source of truth after creation.
type ConnectionDescriptor struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database,omitempty"`
	Schema   string `json:"schema,omitempty"`
	PoolMode string `json:"poolMode,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// DSN renders a postgres:// URL for the pgdriver connector.
func (d ConnectionDescriptor) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr renders a host:port pair for the redis client.
func (d ConnectionDescriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}
