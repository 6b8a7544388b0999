package policy

import (
	"context"
	"time"

	"github.com/sentra-id/sentra/audit"
	"github.com/sentra-id/sentra/logger"
)

// Decision is the evaluation outcome together with the role or policy that
// produced it.
type Decision struct {
	Effect    Effect `json:"effect"`
	MatchedID string `json:"matched_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Evaluator answers authorization questions from cached policy snapshots.
// Every call emits an audit record, allowed or not. All error paths resolve
// to Deny; nothing in here fails open.
type Evaluator struct {
	cache  *Cache
	audit  audit.Emitter
	logger logger.Logger
}

// NewEvaluator builds an evaluator over the given cache.
func NewEvaluator(cache *Cache, emitter audit.Emitter, log logger.Logger) *Evaluator {
	return &Evaluator{
		cache:  cache,
		audit:  emitter,
		logger: log.WithSubsystem("policy.eval"),
	}
}

// Evaluate decides whether the principal may perform action on resource.
// The returned Decision is always populated; when err is non-nil the
// decision is Deny and err explains the failure.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, principalID, resource, action string, ectx *EvalContext) (*Decision, error) {
	if ectx == nil {
		ectx = &EvalContext{}
	}
	if ectx.Now.IsZero() {
		ectx.Now = time.Now().UTC()
	}

	decision, err := e.evaluate(ctx, tenantID, principalID, resource, action, ectx)
	e.emit(tenantID, principalID, resource, action, decision, err)
	return decision, err
}

func (e *Evaluator) evaluate(ctx context.Context, tenantID, principalID, resource, action string, ectx *EvalContext) (*Decision, error) {
	set, err := e.cache.Get(ctx, tenantID)
	if err != nil {
		return &Decision{Effect: Deny, Reason: "policy store unavailable"}, err
	}

	roles, ok := set.Bindings[principalID]
	if !ok {
		return &Decision{Effect: Deny, Reason: "no role binding"}, ErrUnknownPrincipal
	}

	// Baseline from role permissions.
	baseline := &Decision{Effect: Deny, Reason: "no role grants the permission"}
	for _, roleID := range roles {
		role, ok := set.Roles[roleID]
		if !ok {
			continue
		}
		if role.Covers(resource, action) {
			baseline = &Decision{Effect: Allow, MatchedID: role.ID}
			break
		}
	}

	// Conditional policies are pre-sorted by priority descending with deny
	// ahead of allow at equal priority. The first one whose condition holds
	// overrides the baseline.
	for _, pol := range set.Policies {
		if !pol.Matches(resource, action) {
			continue
		}
		if pol.Condition == nil {
			return &Decision{Effect: pol.Effect, MatchedID: pol.ID}, nil
		}
		matched, err := pol.Condition.Eval(ectx)
		if err != nil {
			e.logger.Warn("policy condition failed to evaluate",
				logger.String("tenant_id", tenantID),
				logger.String("policy_id", pol.ID),
				logger.Err(err))
			return &Decision{Effect: Deny, MatchedID: pol.ID, Reason: "malformed condition"}, ErrMalformedCondition
		}
		if matched {
			return &Decision{Effect: pol.Effect, MatchedID: pol.ID}, nil
		}
	}

	return baseline, nil
}

func (e *Evaluator) emit(tenantID, principalID, resource, action string, decision *Decision, err error) {
	if e.audit == nil {
		return
	}
	event := &audit.Event{
		Type:        audit.EventEvaluation,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Resource:    resource,
		Action:      action,
		Decision:    string(decision.Effect),
		MatchedID:   decision.MatchedID,
		Reason:      decision.Reason,
	}
	if err != nil {
		event.Reason = err.Error()
	}
	e.audit.Emit(event)
}
