package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{Configuration("bad pool mode %q", "x"), KindConfiguration},
		{Provisioning("acme", "create schema", stderrors.New("boom")), KindProvisioning},
		{SecretNotFound("/tenants/acme/postgres/connection"), KindSecretNotFound},
		{MalformedSecret("/tenants/acme/postgres/connection", stderrors.New("bad json")), KindMalformedSecret},
		{Transaction("acme", stderrors.New("boom")), KindTransaction},
	}
	for _, c := range cases {
		if GetKind(c.err) != c.kind {
			t.Errorf("expected kind %s, got %s", c.kind, GetKind(c.err))
		}
		if !IsKind(c.err, c.kind) {
			t.Errorf("IsKind failed for %s", c.kind)
		}
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := Provisioning("acme", "create schema", stderrors.New("duplicate"))
	msg := err.Error()
	for _, want := range []string{"acme", "create schema", "duplicate"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Transaction("acme", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsAccessDenied(t *testing.T) {
	cases := []struct {
		err      error
		expected bool
	}{
		{stderrors.New("ERROR: permission denied for table users (SQLSTATE=42501)"), true},
		{stderrors.New(`new row violates row-level security policy for table "users"`), true},
		{stderrors.New("NOPERM this user has no permissions to run the 'flushall' command"), true},
		{stderrors.New("connection refused"), false},
		{nil, false},
	}
	for _, c := range cases {
		if IsAccessDenied(c.err) != c.expected {
			t.Errorf("IsAccessDenied(%v) != %v", c.err, c.expected)
		}
	}
}
