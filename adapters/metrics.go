package adapters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTenantsProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_tenants_provisioned_total",
		Help: "Tenants successfully provisioned, by isolation strategy.",
	}, []string{"strategy"})

	metricTenantsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_tenants_deleted_total",
		Help: "Tenants successfully deprovisioned, by isolation strategy.",
	}, []string{"strategy"})

	metricProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_provision_failures_total",
		Help: "Failed provisioning attempts, by isolation strategy.",
	}, []string{"strategy"})

	metricProvisionWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_provision_warnings_total",
		Help: "Degraded-path warnings raised during provisioning.",
	}, []string{"strategy"})

	metricPoolsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_tenant_pools_opened_total",
		Help: "Tenant-scoped connection pools opened.",
	}, []string{"strategy"})

	metricPoolsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_tenant_pools_closed_total",
		Help: "Tenant-scoped connection pools closed via End.",
	}, []string{"strategy"})
)
