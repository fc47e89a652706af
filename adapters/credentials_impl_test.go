package adapters

import (
	"context"
	"testing"

	"github.com/go-faker/faker/v4"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/test"
)

func TestCredentialManager_ResolvePath(t *testing.T) {
	assert := test.NewAssertions(t)
	secrets := NewMemorySecretStore()

	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets: secrets,
		Kind:    "postgres",
	})
	assert.Equals(creds.ResolvePath("acme"), "/tenants/acme/postgres/connection")

	creds = NewCredentialManager(CredentialManagerConfig{
		Secrets:    secrets,
		Kind:       "postgres",
		ResourceId: "analytics",
	})
	assert.Equals(creds.ResolvePath("acme"), "/tenants/acme/postgres/analytics/connection")

	creds = NewCredentialManager(CredentialManagerConfig{
		Secrets: secrets,
		Kind:    "redis",
		Pattern: "/custom/{tenantId}/creds",
	})
	assert.Equals(creds.ResolvePath("acme"), "/custom/acme/creds")
}

func TestCredentialManager_RoundTrip(t *testing.T) {
	assert := test.NewAssertions(t)
	ctx := context.Background()
	secrets := NewMemorySecretStore()
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets: secrets,
		Kind:    "postgres",
	})
	tenantId := faker.Username()
	descriptor := f.ConnectionDescriptor{
		Host:     "db.internal",
		Port:     5432,
		User:     "tenant_" + tenantId,
		Password: faker.Password(),
		Schema:   "tenant_" + tenantId,
		PoolMode: "session",
	}

	assert.Nil(creds.Store(ctx, tenantId, descriptor))

	loaded, err := creds.Get(ctx, tenantId)
	assert.Nil(err)
	assert.Equals(*loaded, descriptor)

	// assert post-write state against the raw store: reads through the
	// manager sit behind a write-behind cache
	descriptor.Password = "rotated-" + faker.Word()
	assert.Nil(creds.Update(ctx, tenantId, descriptor))
	raw, err := secrets.GetSecret(ctx, creds.ResolvePath(tenantId))
	assert.Nil(err)
	assert.Contains(raw, descriptor.Password)

	assert.Nil(creds.Remove(ctx, tenantId))
	_, err = secrets.GetSecret(ctx, creds.ResolvePath(tenantId))
	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindSecretNotFound))
}

func TestCredentialManager_MissingSecret(t *testing.T) {
	assert := test.NewAssertions(t)
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets: NewMemorySecretStore(),
		Kind:    "postgres",
	})

	_, err := creds.Get(context.Background(), "ghost")

	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindSecretNotFound))
}

func TestCredentialManager_MalformedSecret(t *testing.T) {
	assert := test.NewAssertions(t)
	ctx := context.Background()
	secrets := NewMemorySecretStore()
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets: secrets,
		Kind:    "postgres",
	})
	assert.Nil(secrets.CreateSecret(ctx, creds.ResolvePath("acme"), "not-json{"))

	_, err := creds.Get(ctx, "acme")

	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindMalformedSecret))
}

func TestCredentialManager_GeneratePassword(t *testing.T) {
	assert := test.NewAssertions(t)
	creds := NewCredentialManager(CredentialManagerConfig{
		Secrets: NewMemorySecretStore(),
		Kind:    "postgres",
	})

	password, err := creds.GeneratePassword(0)
	assert.Nil(err)
	assert.Len(password, 24)

	custom := NewCredentialManager(CredentialManagerConfig{
		Secrets: NewMemorySecretStore(),
		Kind:    "postgres",
		PasswordGenerator: func(int) (string, error) {
			return "static-password", nil
		},
	})
	password, err = custom.GeneratePassword(0)
	assert.Nil(err)
	assert.Equals(password, "static-password")
}
