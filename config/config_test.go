package config

import (
	"testing"

	"github.com/soffa-projects/tenancy-go/test"
)

type sampleConfig struct {
	URL      string `validate:"required"`
	PoolMode string
}

func TestValidate(t *testing.T) {
	assert := test.NewAssertions(t)

	assert.Nil(Validate(&sampleConfig{URL: "postgres://localhost/app"}))
	assert.NotNil(Validate(&sampleConfig{}))
}
