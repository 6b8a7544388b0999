package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

const policyPrefix = "core/policy/"

// Store persists roles, policies, and role bindings per tenant. Every write
// bumps the tenant's generation counter and triggers immediate cache
// invalidation through the registered invalidator; readers that miss the
// invalidation still converge within the cache staleness window.
type Store struct {
	backend     storage.Backend
	locks       []*storage.LockEntry
	logger      logger.Logger
	invalidator func(tenantID string)
}

// NewStore builds a policy store on the given backend.
func NewStore(backend storage.Backend, log logger.Logger) *Store {
	return &Store{
		backend: backend,
		locks:   storage.CreateLocks(),
		logger:  log.WithSubsystem("policy"),
	}
}

// SetInvalidator registers the callback invoked after every tenant write.
func (s *Store) SetInvalidator(fn func(tenantID string)) {
	s.invalidator = fn
}

// Generation returns the tenant's current policy generation. A tenant with
// no writes yet is at generation zero.
func (s *Store) Generation(ctx context.Context, tenantID string) (uint64, error) {
	entry, err := s.backend.Get(ctx, policyPrefix+tenantID+"/generation")
	if err != nil {
		return 0, fmt.Errorf("failed to read policy generation: %w", err)
	}
	if entry == nil {
		return 0, nil
	}
	gen, err := strconv.ParseUint(string(entry.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode policy generation: %w", err)
	}
	return gen, nil
}

// SetRole creates or replaces a role.
func (s *Store) SetRole(ctx context.Context, role *Role) error {
	if role.ID == "" || role.TenantID == "" {
		return fmt.Errorf("role id and tenant id are required")
	}
	return s.write(ctx, role.TenantID, "roles/"+role.ID, role)
}

// GetRole returns one role.
func (s *Store) GetRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	role := &Role{}
	if err := s.read(ctx, tenantID, "roles/"+roleID, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role. System roles cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if role.System {
		return ErrSystemRole
	}
	return s.delete(ctx, tenantID, "roles/"+roleID)
}

// ListRoles returns all roles of a tenant.
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	ids, err := s.backend.List(ctx, policyPrefix+tenantID+"/roles/")
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	roles := make([]*Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.GetRole(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// SetPolicy creates or replaces a conditional policy after validating its
// effect and condition tree.
func (s *Store) SetPolicy(ctx context.Context, pol *Policy) error {
	if err := pol.validate(); err != nil {
		return err
	}
	return s.write(ctx, pol.TenantID, "policies/"+pol.ID, pol)
}

// GetPolicy returns one policy.
func (s *Store) GetPolicy(ctx context.Context, tenantID, policyID string) (*Policy, error) {
	pol := &Policy{}
	if err := s.read(ctx, tenantID, "policies/"+policyID, pol); err != nil {
		return nil, err
	}
	return pol, nil
}

// DeletePolicy removes a policy. Deleting a missing policy is a no-op.
func (s *Store) DeletePolicy(ctx context.Context, tenantID, policyID string) error {
	return s.delete(ctx, tenantID, "policies/"+policyID)
}

// ListPolicies returns all conditional policies of a tenant.
func (s *Store) ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	ids, err := s.backend.List(ctx, policyPrefix+tenantID+"/policies/")
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	policies := make([]*Policy, 0, len(ids))
	for _, id := range ids {
		pol, err := s.GetPolicy(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		policies = append(policies, pol)
	}
	return policies, nil
}

// Bind assigns roles to a principal within a tenant, replacing any previous
// binding.
func (s *Store) Bind(ctx context.Context, binding *Binding) error {
	if binding.PrincipalID == "" || binding.TenantID == "" {
		return fmt.Errorf("binding principal id and tenant id are required")
	}
	return s.write(ctx, binding.TenantID, "bindings/"+binding.PrincipalID, binding)
}

// GetBinding returns the principal's role binding.
func (s *Store) GetBinding(ctx context.Context, tenantID, principalID string) (*Binding, error) {
	binding := &Binding{}
	if err := s.read(ctx, tenantID, "bindings/"+principalID, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// ListBindings returns all role bindings of a tenant.
func (s *Store) ListBindings(ctx context.Context, tenantID string) ([]*Binding, error) {
	ids, err := s.backend.List(ctx, policyPrefix+tenantID+"/bindings/")
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	bindings := make([]*Binding, 0, len(ids))
	for _, id := range ids {
		binding, err := s.GetBinding(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func (s *Store) write(ctx context.Context, tenantID, suffix string, obj any) error {
	buf, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode policy object: %w", err)
	}

	lock := storage.LockForKey(s.locks, tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backend.Put(ctx, &storage.Entry{
		Key:   policyPrefix + tenantID + "/" + suffix,
		Value: buf,
	}); err != nil {
		return fmt.Errorf("failed to persist policy object: %w", err)
	}
	return s.bumpGenerationLocked(ctx, tenantID)
}

func (s *Store) delete(ctx context.Context, tenantID, suffix string) error {
	lock := storage.LockForKey(s.locks, tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backend.Delete(ctx, policyPrefix+tenantID+"/"+suffix); err != nil {
		return fmt.Errorf("failed to delete policy object: %w", err)
	}
	return s.bumpGenerationLocked(ctx, tenantID)
}

func (s *Store) read(ctx context.Context, tenantID, suffix string, obj any) error {
	entry, err := s.backend.Get(ctx, policyPrefix+tenantID+"/"+suffix)
	if err != nil {
		return fmt.Errorf("failed to read policy object: %w", err)
	}
	if entry == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(entry.Value, obj); err != nil {
		return fmt.Errorf("failed to decode policy object: %w", err)
	}
	return nil
}

func (s *Store) bumpGenerationLocked(ctx context.Context, tenantID string) error {
	gen, err := s.Generation(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, &storage.Entry{
		Key:   policyPrefix + tenantID + "/generation",
		Value: []byte(strconv.FormatUint(gen+1, 10)),
	}); err != nil {
		return fmt.Errorf("failed to persist policy generation: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator(tenantID)
	}
	s.logger.Debug("policy generation bumped",
		logger.String("tenant_id", tenantID),
		logger.Uint64("generation", gen+1))
	return nil
}
