package policy

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/strutil"
)

var (
	// ErrUnknownPrincipal means the principal has no role binding in the
	// tenant being evaluated.
	ErrUnknownPrincipal = errors.New("unknown principal for tenant")

	// ErrMalformedCondition means a policy condition failed to parse or
	// evaluate. Evaluation fails closed to Deny.
	ErrMalformedCondition = errors.New("malformed policy condition")

	// ErrSystemRole is returned on attempts to delete a system role.
	ErrSystemRole = errors.New("system roles cannot be deleted")

	// ErrNotFound means no role or policy exists with the given id.
	ErrNotFound = errors.New("policy object not found")
)

// Effect is the outcome of a policy or an evaluation.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Role bundles permissions under a name, scoped to a tenant. Permissions
// use the "resource:action" form and accept "*" globs in either part.
type Role struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	System      bool     `json:"system,omitempty"`
}

// Covers reports whether the role's permission set grants the action on
// the resource.
func (r *Role) Covers(resource, action string) bool {
	want := resource + ":" + action
	for _, perm := range r.Permissions {
		if strutil.GlobbedStringsMatch(perm, want) {
			return true
		}
	}
	return false
}

// Policy is a conditional rule overriding role-derived decisions. Higher
// priority wins; deny beats allow at equal priority.
type Policy struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Effect    Effect     `json:"effect"`
	Resource  string     `json:"resource"`
	Action    string     `json:"action"`
	Priority  int        `json:"priority"`
	Condition *Condition `json:"condition,omitempty"`
}

// Matches reports whether the policy targets the given resource and action.
func (p *Policy) Matches(resource, action string) bool {
	return strutil.GlobbedStringsMatch(p.Resource, resource) &&
		strutil.GlobbedStringsMatch(p.Action, action)
}

func (p *Policy) validate() error {
	if p.ID == "" || p.TenantID == "" {
		return fmt.Errorf("policy id and tenant id are required")
	}
	if p.Effect != Allow && p.Effect != Deny {
		return fmt.Errorf("policy effect must be %q or %q", Allow, Deny)
	}
	if p.Condition != nil {
		if err := p.Condition.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Binding assigns roles to a principal within a tenant.
type Binding struct {
	PrincipalID string   `json:"principal_id"`
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles"`
}
