package f

import "context"

// SecretStore is the key/value contract every secrets backend implements.
// Values are opaque JSON-serialized connection descriptors; the store never
// inspects them.
type SecretStore interface {
	Name() string
	GetSecret(ctx context.Context, path string) (string, error)
	CreateSecret(ctx context.Context, path string, value string) error
	UpdateSecret(ctx context.Context, path string, value string) error
	DeleteSecret(ctx context.Context, path string) error
	Close() error
}
