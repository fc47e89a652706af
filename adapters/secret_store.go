package adapters

import (
	"fmt"
	"net/url"
	"strings"

	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/h"
	"github.com/soffa-projects/tenancy-go/log"
)

// NewSecretStore builds a secret store from a provider URL:
//
//	vault+https://TOKEN@vault.internal:8200?mount=secret
//	https://TOKEN@kv.internal/api/secrets
//	file:///var/lib/tenancy/secrets.json
//	memory://
func NewSecretStore(provider string) (f.SecretStore, error) {
	if h.IsEmpty(provider) {
		return nil, fmt.Errorf("secret store provider is required")
	}
	if provider == "memory://" || provider == "memory" {
		return NewMemorySecretStore(), nil
	}
	cfg, err := url.Parse(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secret store provider: %w", err)
	}
	switch cfg.Scheme {
	case "vault+https", "vault+http":
		return NewVaultSecretStore(cfg)
	case "https", "http":
		return NewHttpSecretStore(cfg), nil
	case "file":
		return NewFileSecretStore(strings.TrimPrefix(provider, "file://"))
	default:
		return nil, fmt.Errorf("unsupported secret store provider: %s", cfg.Scheme)
	}
}

func MustNewSecretStore(provider string) f.SecretStore {
	store, err := NewSecretStore(provider)
	f.CheckErr(err)
	log.Info("secret store installed: %s", store.Name())
	return store
}
