package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
)

type VaultSecretStore struct {
	mount  string
	client *vault.Client
}

func NewVaultSecretStore(cfg *url.URL) (f.SecretStore, error) {
	token := cfg.User.Username()
	if token == "" {
		return nil, fmt.Errorf("[vault] token is required")
	}
	mount := cfg.Query().Get("mount")
	if mount == "" {
		mount = "secret"
	}
	address := fmt.Sprintf("%s://%s", strings.TrimPrefix(cfg.Scheme, "vault+"), cfg.Host)
	client, err := vault.New(
		vault.WithAddress(address),
		vault.WithRequestTimeout(30*time.Second),
	)
	if err == nil {
		err = client.SetToken(token)
	}
	if err != nil {
		return nil, fmt.Errorf("[vault] failed to create client: %w", err)
	}
	return &VaultSecretStore{
		mount:  mount,
		client: client,
	}, nil
}

func (v *VaultSecretStore) Name() string {
	return "vault"
}

func (v *VaultSecretStore) Close() error {
	return nil
}

func (v *VaultSecretStore) GetSecret(ctx context.Context, path string) (string, error) {
	res, err := v.client.Secrets.KvV2Read(ctx, vaultPath(path), vault.WithMountPath(v.mount))
	if err != nil {
		if vault.IsErrorStatus(err, http.StatusNotFound) {
			return "", errors.SecretNotFound(path)
		}
		return "", fmt.Errorf("[vault] failed to read secret %s: %w", path, err)
	}
	value, ok := res.Data.Data["value"].(string)
	if !ok {
		return "", errors.MalformedSecret(path, fmt.Errorf("missing value field"))
	}
	return value, nil
}

func (v *VaultSecretStore) CreateSecret(ctx context.Context, path string, value string) error {
	return v.write(ctx, path, value)
}

func (v *VaultSecretStore) UpdateSecret(ctx context.Context, path string, value string) error {
	return v.write(ctx, path, value)
}

func (v *VaultSecretStore) write(ctx context.Context, path string, value string) error {
	_, err := v.client.Secrets.KvV2Write(ctx, vaultPath(path), schema.KvV2WriteRequest{
		Data: map[string]any{"value": value},
	}, vault.WithMountPath(v.mount))
	if err != nil {
		return fmt.Errorf("[vault] failed to write secret %s: %w", path, err)
	}
	return nil
}

func (v *VaultSecretStore) DeleteSecret(ctx context.Context, path string) error {
	_, err := v.client.Secrets.KvV2DeleteMetadataAndAllVersions(ctx, vaultPath(path), vault.WithMountPath(v.mount))
	if err != nil {
		if vault.IsErrorStatus(err, http.StatusNotFound) {
			return nil
		}
		return fmt.Errorf("[vault] failed to delete secret %s: %w", path, err)
	}
	return nil
}

// vault paths are relative to the mount, no leading slash
func vaultPath(path string) string {
	return strings.TrimPrefix(path, "/")
}
