package main

import (
	"context"

	"github.com/soffa-projects/tenancy-go/adapters"
	"github.com/soffa-projects/tenancy-go/config"
	"github.com/soffa-projects/tenancy-go/log"
)

type demoConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" validate:"required"`
	SecretStore string `envconfig:"SECRET_STORE" default:"memory://"`
	Tenant      string `envconfig:"TENANT" default:"acme"`
	PoolMode    string `envconfig:"POOL_MODE" default:"session"`
}

// Provisions one tenant under schema isolation, runs a query as that
// tenant, then tears everything down.
func main() {
	var cfg demoConfig
	config.Load(&cfg)
	ctx := context.Background()

	secrets := adapters.MustNewSecretStore(cfg.SecretStore)
	management, tenants, err := adapters.NewSchemaResource(adapters.SchemaConfig{
		URL:      cfg.DatabaseURL,
		Secrets:  secrets,
		PoolMode: cfg.PoolMode,
	})
	if err != nil {
		log.Fatal("failed to build resource: %v", err)
	}

	result, err := management.CreateTenant(ctx, cfg.Tenant)
	if err != nil {
		log.Fatal("failed to create tenant: %v", err)
	}
	log.Info("tenant %s provisioned in schema %s", result.TenantId, result.Descriptor.Schema)
	for _, warning := range result.Warnings {
		log.Warn("provisioning warning: %s", warning)
	}

	rows, err := tenants.QueryAs(ctx, cfg.Tenant, "SELECT current_schema() AS schema")
	if err != nil {
		log.Fatal("tenant query failed: %v", err)
	}
	for _, row := range rows {
		log.Info("connected as tenant, current_schema=%v", row["schema"])
	}

	if err := tenants.End(); err != nil {
		log.Warn("failed to close tenant pools: %v", err)
	}
	if err := management.DeleteTenant(ctx, cfg.Tenant); err != nil {
		log.Fatal("failed to delete tenant: %v", err)
	}
	if err := management.End(); err != nil {
		log.Warn("failed to close management pool: %v", err)
	}
	log.Info("tenant %s deprovisioned", cfg.Tenant)
}
