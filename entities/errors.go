package entities

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for reporting and exit status.
type Kind string

const (
	KindConfig     Kind = "config"
	KindIdentity   Kind = "identity"
	KindAuth       Kind = "auth"
	KindSync       Kind = "sync"
	KindValidation Kind = "validation"
	KindTransport  Kind = "transport"
	KindLock       Kind = "lock"
	KindAborted    Kind = "aborted"
	KindInternal   Kind = "internal"
)

// ConfigError represents missing or malformed credentials for a top-level
// directory.
type ConfigError struct {
	Path   string
	Reason string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", err.Path, err.Reason)
}

// IdentityError is returned when no parameter tuple can be derived from a
// directory.
type IdentityError struct {
	Dir    string
	Reason string
}

func (err *IdentityError) Error() string {
	return fmt.Sprintf("cannot derive identity for %q: %s", err.Dir, err.Reason)
}

// AuthError represents a failed authentication. Fatal is set once the
// consecutive failure cap has been reached.
type AuthError struct {
	Status int
	Fatal  bool
	Err    error
}

func (err *AuthError) Error() string {
	msg := "authentication failed"
	if err.Fatal {
		msg = "authentication failed repeatedly, giving up"
	}
	if err.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, err.Status)
	}
	if err.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err.Err)
	}
	return msg
}

func (err *AuthError) Unwrap() error {
	return err.Err
}

// SyncError is a hierarchy call that failed with a non-conflict, non-2xx
// status.
type SyncError struct {
	Level  string
	Path   string
	Status int
	Body   string
}

func (err *SyncError) Error() string {
	msg := fmt.Sprintf("sync %s %s: HTTP %d", err.Level, err.Path, err.Status)
	if err.Body != "" {
		msg += ": " + err.Body
	}
	return msg
}

// ValidationFailed is a structured report that did not pass every schema
// validator.
type ValidationFailed struct {
	File        string
	Diagnostics []string
}

func (err *ValidationFailed) Error() string {
	if len(err.Diagnostics) == 0 {
		return "schema validation failed"
	}
	return "schema validation failed: " + strings.Join(err.Diagnostics, "; ")
}

// TransportError is a network or HTTP failure during an upload or probe.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (err *TransportError) Error() string {
	switch {
	case err.Err != nil && err.Status != 0:
		return fmt.Sprintf("%s: HTTP %d: %v", err.Op, err.Status, err.Err)
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", err.Op, err.Err)
	default:
		return fmt.Sprintf("%s: HTTP %d", err.Op, err.Status)
	}
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// LockError means another importer holds the lock of a directory.
type LockError struct {
	Key string
	Err error
}

func (err *LockError) Error() string {
	return fmt.Sprintf("lock %s: %v", err.Key, err.Err)
}

func (err *LockError) Unwrap() error {
	return err.Err
}

// AbortedError marks work that was never attempted because the run was
// aborted by Err.
type AbortedError struct {
	Err error
}

func (err *AbortedError) Error() string {
	return fmt.Sprintf("not imported, run aborted: %v", err.Err)
}

func (err *AbortedError) Unwrap() error {
	return err.Err
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	var (
		configErr     *ConfigError
		identityErr   *IdentityError
		authErr       *AuthError
		syncErr       *SyncError
		validationErr *ValidationFailed
		transportErr  *TransportError
		lockErr       *LockError
		abortedErr    *AbortedError
	)
	switch {
	case errors.As(err, &abortedErr):
		return KindAborted
	case errors.As(err, &configErr):
		return KindConfig
	case errors.As(err, &identityErr):
		return KindIdentity
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &syncErr):
		return KindSync
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &lockErr):
		return KindLock
	}
	return KindInternal
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Fatal
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	if IsFatal(err) {
		return true
	}
	switch KindOf(err) {
	case KindConfig, KindIdentity, KindValidation:
		return true
	}
	return false
}

// IsNonRetryable reports whether a recorded failure of kind k is a
// non-retryable condition.
func (k Kind) IsNonRetryable() bool {
	switch k {
	case KindConfig, KindIdentity, KindValidation:
		return true
	}
	return false
}
