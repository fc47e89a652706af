package f

import "context"

// Provisioner is the management half of an isolation strategy. It owns an
// administrative connection and never serves tenant traffic.
type Provisioner interface {
	CreateTenant(ctx context.Context, tenantId string) (*ProvisionResult, error)
	DeleteTenant(ctx context.Context, tenantId string) error
	End() error
}

// ProvisionResult reports what CreateTenant did. Warnings carry degraded
// conditions ("role already exists", "pgbouncer config not refreshed") as
// data instead of log lines, so automated callers can react to them.
type ProvisionResult struct {
	TenantId   string
	Descriptor ConnectionDescriptor
	Warnings   []string
}

func (r *ProvisionResult) Warn(message string) {
	r.Warnings = append(r.Warnings, message)
}
