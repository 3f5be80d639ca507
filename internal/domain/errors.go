package domain

import "fmt"

// ValidationError rejects malformed input before any state write.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IllegalTransitionError names a source/target pair outside the transition table.
type IllegalTransitionError struct {
	Kind Kind
	From string
	To   string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Kind, e.From, e.To)
}

// StaleStateError reports a lost optimistic-concurrency race. The caller
// should reload instead of retrying blindly.
type StaleStateError struct {
	Kind     Kind
	ID       string
	Expected string
	Actual   string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("stale %s %s: expected %s, found %s", e.Kind, e.ID, e.Expected, e.Actual)
}

// DuplicateAllocationError is returned when a certificate number collides with
// an existing one. The issuance attempt is abandoned, never silently retried.
type DuplicateAllocationError struct {
	Number string
}

func (e DuplicateAllocationError) Error() string {
	return fmt.Sprintf("certificate number %s already allocated", e.Number)
}

// AlreadyInvalidError reports a second revocation of the same certificate.
type AlreadyInvalidError struct {
	CertificateID string
}

func (e AlreadyInvalidError) Error() string {
	return fmt.Sprintf("certificate %s already invalidated", e.CertificateID)
}
