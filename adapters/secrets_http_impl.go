package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	f "github.com/soffa-projects/tenancy-go/core"
	"github.com/soffa-projects/tenancy-go/errors"
)

// HttpSecretStore talks to a self-hosted KV secret service exposing
// GET/PUT/DELETE on /<path>. Values travel as the raw response/request body.
type HttpSecretStore struct {
	target string
	bearer string
	client *resty.Client
}

func NewHttpSecretStore(cfg *url.URL) f.SecretStore {
	bearer := cfg.User.Username()
	target := fmt.Sprintf("%s://%s%s", cfg.Scheme, cfg.Host, cfg.Path)
	return &HttpSecretStore{
		target: strings.TrimSuffix(target, "/"),
		bearer: bearer,
		client: resty.New(),
	}
}

func (s *HttpSecretStore) Name() string {
	return "http"
}

func (s *HttpSecretStore) Close() error {
	return nil
}

func (s *HttpSecretStore) GetSecret(ctx context.Context, path string) (string, error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.bearer).
		Get(s.target + path)
	if err != nil {
		return "", fmt.Errorf("[http-secrets] failed to read %s: %w", path, err)
	}
	if res.StatusCode() == 404 {
		return "", errors.SecretNotFound(path)
	}
	if res.IsError() {
		return "", fmt.Errorf("[http-secrets] read %s returned %s", path, res.Status())
	}
	return string(res.Body()), nil
}

func (s *HttpSecretStore) CreateSecret(ctx context.Context, path string, value string) error {
	return s.write(ctx, path, value)
}

func (s *HttpSecretStore) UpdateSecret(ctx context.Context, path string, value string) error {
	return s.write(ctx, path, value)
}

func (s *HttpSecretStore) write(ctx context.Context, path string, value string) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.bearer).
		SetBody(value).
		Put(s.target + path)
	if err != nil {
		return fmt.Errorf("[http-secrets] failed to write %s: %w", path, err)
	}
	if res.IsError() {
		return fmt.Errorf("[http-secrets] write %s returned %s", path, res.Status())
	}
	return nil
}

func (s *HttpSecretStore) DeleteSecret(ctx context.Context, path string) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.bearer).
		Delete(s.target + path)
	if err != nil {
		return fmt.Errorf("[http-secrets] failed to delete %s: %w", path, err)
	}
	if res.IsError() && res.StatusCode() != 404 {
		return fmt.Errorf("[http-secrets] delete %s returned %s", path, res.Status())
	}
	return nil
}
