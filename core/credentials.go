package f

import "context"

// CredentialManager persists connection descriptors at deterministic paths
// derived from a pattern containing {tenantId} and, when the owning
// resource carries an id, {resourceId}.
type CredentialManager interface {
	Store(ctx context.Context, tenantId string, descriptor ConnectionDescriptor) error
	Update(ctx context.Context, tenantId string, descriptor ConnectionDescriptor) error
	Remove(ctx context.Context, tenantId string) error
	Get(ctx context.Context, tenantId string) (*ConnectionDescriptor, error)
	GeneratePassword(length int) (string, error)
	ResolvePath(tenantId string) string
}

// PasswordGenerator can be swapped in through resource options when the
// target system constrains the credential shape.
type PasswordGenerator func(length int) (string, error)
