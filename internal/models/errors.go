package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the engine's exposed operations.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrScanNotFound    = errors.New("scan not found")
	ErrScanRunning     = errors.New("scan still running")
)

// AuthReason classifies credential session acquisition failures.
type AuthReason string

const (
	AuthDenied        AuthReason = "denied"
	AuthInvalidSecret AuthReason = "invalid_secret"
	AuthUnreachable   AuthReason = "unreachable"
)

// AuthError reports a failure to acquire a delegated session. Always fatal
// for the scan: every collector depends on the session, so the coordinator
// fails fast and never retries internally.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session acquisition failed (%s)", e.Reason)
	}
	return fmt.Sprintf("session acquisition failed (%s): %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CollectionError reports that one domain's collector failed after
// exhausting its retries. Non-fatal: the scan continues with the remaining
// domains and completes with Degraded set.
type CollectionError struct {
	Domain ResourceDomain
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Domain, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// StoreError reports a persistence failure that survived the bounded retry
// policy. Fatal: the coordinator escalates it to a failed scan.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
