package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	wrapping "github.com/openbao/go-kms-wrapping/v2"
	aead "github.com/openbao/go-kms-wrapping/wrappers/aead/v2"
	"github.com/sentra-id/sentra/audit"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/policy"
	"github.com/sentra-id/sentra/storage/inmem"
	"github.com/sentra-id/sentra/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *captureSink) Deliver(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.Clone())
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func testSeal(t *testing.T) wrapping.Wrapper {
	t.Helper()
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)
	wrapper := aead.NewWrapper()
	_, err = wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(map[string]string{
		"key":    base64.StdEncoding.EncodeToString(rootKey),
		"key_id": "root",
	}))
	require.NoError(t, err)
	return wrapper
}

func testCore(t *testing.T) (*Core, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	c, err := NewCore(&Config{
		Backend:    inmem.NewInmemBackend(logger.NewNop()),
		Seal:       testSeal(t),
		Logger:     logger.NewNop(),
		AccessTTL:  10 * time.Minute,
		RefreshTTL: time.Hour,
		AuditSinks: map[string]audit.Sink{"capture": sink},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, sink
}

func waitForEvents(t *testing.T, sink *captureSink, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) >= want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIssueVerifyRotateLifecycle(t *testing.T) {
	c, _ := testCore(t)
	ctx := context.Background()

	pair, err := c.Issue(ctx, "t1", "alice", "")
	require.NoError(t, err)

	principal, err := c.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.PrincipalID)
	assert.Equal(t, "t1", principal.TenantID)

	rotated, err := c.Rotate(ctx, pair.RefreshToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Rotation does not disturb verification of either access token.
	_, err = c.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	_, err = c.Verify(ctx, rotated.AccessToken)
	require.NoError(t, err)
}

func TestReplayRevokesSessionEverywhere(t *testing.T) {
	c, sink := testCore(t)
	ctx := context.Background()

	pair, err := c.Issue(ctx, "t1", "alice", "")
	require.NoError(t, err)
	rotated, err := c.Rotate(ctx, pair.RefreshToken, "")
	require.NoError(t, err)

	// Replaying the consumed refresh token kills the whole session.
	_, err = c.Rotate(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, token.ErrSessionRevoked)

	// The legitimate latest refresh token is dead.
	_, err = c.Rotate(ctx, rotated.RefreshToken, "")
	assert.ErrorIs(t, err, token.ErrSessionRevoked)

	// Access tokens are rejected through the denylist.
	_, err = c.Verify(ctx, rotated.AccessToken)
	assert.ErrorIs(t, err, token.ErrSessionRevoked)
	_, err = c.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, token.ErrSessionRevoked)

	waitForEvents(t, sink, 3)
	assert.Contains(t, sink.types(), audit.EventReplayDetected)
}

func TestRotateGarbageToken(t *testing.T) {
	c, _ := testCore(t)
	_, err := c.Rotate(context.Background(), "garbage", "")
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	c, sink := testCore(t)
	ctx := context.Background()

	pair, err := c.Issue(ctx, "t1", "alice", "")
	require.NoError(t, err)
	principal, err := c.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, c.Revoke(ctx, principal.SessionID, "logout"))
	require.NoError(t, c.Revoke(ctx, principal.SessionID, "logout"))

	_, err = c.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, token.ErrSessionRevoked)
	_, err = c.Rotate(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, token.ErrSessionRevoked)

	waitForEvents(t, sink, 2)
	assert.Contains(t, sink.types(), audit.EventSessionRevoked)
}

func TestKeyRotationKeepsTokensValid(t *testing.T) {
	c, _ := testCore(t)
	ctx := context.Background()

	pair, err := c.Issue(ctx, "t1", "alice", "")
	require.NoError(t, err)

	_, err = c.RotateTenantKey(ctx, "t1")
	require.NoError(t, err)

	_, err = c.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	fresh, err := c.Issue(ctx, "t1", "bob", "")
	require.NoError(t, err)
	_, err = c.Verify(ctx, fresh.AccessToken)
	require.NoError(t, err)
}

func TestEvaluateEndToEnd(t *testing.T) {
	c, sink := testCore(t)
	ctx := context.Background()

	require.NoError(t, c.Policies().SetRole(ctx, &policy.Role{
		ID: "editor", TenantID: "t1", Permissions: []string{"document:edit"},
	}))
	require.NoError(t, c.Policies().Bind(ctx, &policy.Binding{
		PrincipalID: "alice", TenantID: "t1", Roles: []string{"editor"},
	}))
	require.NoError(t, c.Policies().SetPolicy(ctx, &policy.Policy{
		ID: "require-mfa", TenantID: "t1", Effect: policy.Deny,
		Resource: "document", Action: "edit", Priority: 10,
		Condition: &policy.Condition{
			Type:  policy.CondNot,
			Child: &policy.Condition{Type: policy.CondAuthStrength, RequireMFA: true},
		},
	}))

	dec, err := c.Evaluate(ctx, "t1", "alice", "document", "edit", &policy.EvalContext{MFASatisfied: false})
	require.NoError(t, err)
	assert.Equal(t, policy.Deny, dec.Effect)

	dec, err = c.Evaluate(ctx, "t1", "alice", "document", "edit", &policy.EvalContext{MFASatisfied: true})
	require.NoError(t, err)
	assert.Equal(t, policy.Allow, dec.Effect)

	waitForEvents(t, sink, 2)
	assert.Contains(t, sink.types(), audit.EventEvaluation)
}

func TestMetricsSnapshot(t *testing.T) {
	c, _ := testCore(t)
	ctx := context.Background()

	pair, err := c.Issue(ctx, "t1", "alice", "")
	require.NoError(t, err)
	_, err = c.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	m := c.Metrics()
	assert.Equal(t, int64(1), m["tokens_verified"])
	assert.Contains(t, m, "audit_events_dropped")
}

func TestShutdown(t *testing.T) {
	c, _ := testCore(t)
	c.StartJobs()

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())

	_, err := c.Issue(context.Background(), "t1", "alice", "")
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = c.Verify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrShutdown)
}
