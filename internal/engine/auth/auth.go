package auth

import (
	"fmt"
	"sort"

	"caseline/internal/config"
	"caseline/internal/domain"
)

// Operation names checked before each workflow call.
const (
	CertificateSubmit  = "certificate.submit"
	CertificateApprove = "certificate.approve"
	CertificateReject  = "certificate.reject"
	CertificateRelease = "certificate.release"
	CertificateDelete  = "certificate.delete"
	CertificateRead    = "certificate.read"
	IssuedInvalidate   = "issued.invalidate"
	IssuedSign         = "issued.sign"
	IssuedRead         = "issued.read"
	QueueRead          = "queue.read"
	EventsRead         = "events.read"
	APIKeyCreate       = "apikey.create"
	APIKeyManage       = "apikey.manage"
)

// KindOperation builds "<kind>.<action>" for the per-kind operations
// (submit, approve, reject, progress, delete, read).
func KindOperation(kind domain.Kind, action string) string {
	return string(kind) + "." + action
}

// ForbiddenError indicates the actor's role is not allowed the operation.
type ForbiddenError struct {
	Operation string
	Role      string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("operation %s requires a role", e.Operation)
	}
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Operation)
}

// Authorizer is the capability check injected into the engine.
type Authorizer interface {
	Authorize(actor domain.Actor, operation string) error
}

// RolePolicy maps operations to the roles allowed to perform them. Unknown
// operations are denied.
type RolePolicy struct {
	roles map[string]map[string]bool
}

func NewRolePolicy(operations map[string][]string) RolePolicy {
	p := RolePolicy{roles: map[string]map[string]bool{}}
	for op, roles := range operations {
		set := map[string]bool{}
		for _, r := range roles {
			set[r] = true
		}
		p.roles[op] = set
	}
	return p
}

// PolicyFromConfig builds the policy from the rbac section.
func PolicyFromConfig(cfg *config.Config) RolePolicy {
	if cfg == nil {
		return NewRolePolicy(nil)
	}
	return NewRolePolicy(cfg.RBAC.Operations)
}

func (p RolePolicy) Authorize(actor domain.Actor, operation string) error {
	if actor.Role != "" && p.roles[operation][actor.Role] {
		return nil
	}
	return ForbiddenError{Operation: operation, Role: actor.Role}
}

// Roles returns the roles allowed to perform operation, sorted.
func (p RolePolicy) Roles(operation string) []string {
	var out []string
	for r := range p.roles[operation] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// AllowAll authorizes every call. It is meant for trusted in-process callers
// such as maintenance commands.
type AllowAll struct{}

func (AllowAll) Authorize(domain.Actor, string) error { return nil }
