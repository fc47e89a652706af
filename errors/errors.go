package errors

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindProvisioning    Kind = "provisioning"
	KindSecretNotFound  Kind = "secret_not_found"
	KindMalformedSecret Kind = "malformed_secret"
	KindAccessDenied    Kind = "access_denied"
	KindTransaction     Kind = "transaction"
)

type TenancyError struct {
	Kind    Kind
	Tenant  string
	Op      string
	Message string
	Cause   error
}

func (e *TenancyError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Tenant != "" {
		msg = fmt.Sprintf("[tenant=%s] %s", e.Tenant, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TenancyError) Unwrap() error {
	return e.Cause
}

func Configuration(format string, args ...any) error {
	return &TenancyError{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

func Provisioning(tenant string, op string, cause error) error {
	return &TenancyError{
		Kind:    KindProvisioning,
		Tenant:  tenant,
		Op:      op,
		Message: "provisioning failed",
		Cause:   cause,
	}
}

func SecretNotFound(path string) error {
	return &TenancyError{
		Kind:    KindSecretNotFound,
		Message: fmt.Sprintf("no secret at %s", path),
	}
}

func MalformedSecret(path string, cause error) error {
	return &TenancyError{
		Kind:    KindMalformedSecret,
		Message: fmt.Sprintf("secret at %s is not a valid connection descriptor", path),
		Cause:   cause,
	}
}

func Transaction(tenant string, cause error) error {
	return &TenancyError{
		Kind:    KindTransaction,
		Tenant:  tenant,
		Message: "transaction failed",
		Cause:   cause,
	}
}

func GetKind(err error) Kind {
	var te *TenancyError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// IsAccessDenied reports whether the driver rejected an operation for
// permission reasons. SQLSTATE 42501 covers role/RLS violations on
// Postgres, NOPERM covers Redis ACL rejections. These errors pass through
// verbatim: they are the isolation layer doing its job.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, KindAccessDenied) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "42501") ||
		strings.Contains(msg, "NOPERM") ||
		strings.Contains(msg, "row-level security policy")
}

func Is(err error, target error) bool {
	return errors.Is(err, target)
}
