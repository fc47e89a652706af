package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/soffa-projects/tenancy-go/errors"
	"github.com/soffa-projects/tenancy-go/test"
)

// kvServer is a minimal KV endpoint: GET/PUT/DELETE on any path, raw body
// values, bearer auth.
type kvServer struct {
	mu     sync.Mutex
	values map[string]string
	token  string
}

func (s *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		value, ok := s.values[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(value))
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.values[r.URL.Path] = string(body)
	case http.MethodDelete:
		delete(s.values, r.URL.Path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestHttpSecretStore(t *testing.T) {
	assert := test.NewAssertions(t)
	backend := &kvServer{values: map[string]string{}, token: "testtoken"}
	server := httptest.NewServer(backend)
	defer server.Close()

	target, err := url.Parse(server.URL)
	assert.Nil(err)
	target.User = url.User("testtoken")
	store := NewHttpSecretStore(target)
	assert.Equals(store.Name(), "http")

	checkSecretStore(t, store)
}

func TestHttpSecretStore_BadToken(t *testing.T) {
	assert := test.NewAssertions(t)
	backend := &kvServer{values: map[string]string{}, token: "testtoken"}
	server := httptest.NewServer(backend)
	defer server.Close()

	target, err := url.Parse(server.URL)
	assert.Nil(err)
	target.User = url.User("wrong")
	store := NewHttpSecretStore(target)

	err = store.CreateSecret(context.Background(), "/tenants/acme/postgres/connection", "v")
	assert.NotNil(err)
	assert.Contains(err.Error(), "401")
}

func TestHttpSecretStore_MissingSecret(t *testing.T) {
	assert := test.NewAssertions(t)
	backend := &kvServer{values: map[string]string{}, token: "testtoken"}
	server := httptest.NewServer(backend)
	defer server.Close()

	target, err := url.Parse(server.URL)
	assert.Nil(err)
	target.User = url.User("testtoken")
	store := NewHttpSecretStore(target)

	_, err = store.GetSecret(context.Background(), "/tenants/ghost/postgres/connection")
	assert.NotNil(err)
	assert.True(errors.IsKind(err, errors.KindSecretNotFound))
}

func TestVaultPath(t *testing.T) {
	assert := test.NewAssertions(t)

	assert.Equals(vaultPath("/tenants/acme/postgres/connection"), "tenants/acme/postgres/connection")
	assert.Equals(vaultPath("tenants/acme"), "tenants/acme")
}
