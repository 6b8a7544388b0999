package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	wrapping "github.com/openbao/go-kms-wrapping/v2"
	"github.com/sentra-id/sentra/audit"
	"github.com/sentra-id/sentra/keyring"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/policy"
	"github.com/sentra-id/sentra/session"
	"github.com/sentra-id/sentra/storage"
	"github.com/sentra-id/sentra/token"
)

// ErrShutdown is returned by operations invoked after Shutdown.
var ErrShutdown = errors.New("core is shut down")

// Config carries everything NewCore needs. Backend, seal, and logger are
// constructed by the caller (the server command) from file configuration.
type Config struct {
	Backend storage.Backend
	Seal    wrapping.Wrapper
	Logger  logger.Logger

	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ForensicWindow time.Duration

	Denylist token.Denylist

	PolicyCacheSize int
	PolicyStaleness time.Duration

	AuditSinks map[string]audit.Sink
}

// Core wires the token, session, key, and policy subsystems together and
// owns their background maintenance loops.
type Core struct {
	backend storage.Backend

	keys     *keyring.Registry
	sessions *session.Store
	issuer   *token.Issuer
	verifier *token.Verifier
	denylist token.Denylist

	policyStore *policy.Store
	policyCache *policy.Cache
	evaluator   *policy.Evaluator

	auditor *audit.Manager

	// denylistTTL outlives any access token minted before revocation.
	denylistTTL time.Duration

	logger logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewCore builds a core from the given configuration.
func NewCore(conf *Config) (*Core, error) {
	if conf.Backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNop()
	}
	if conf.AccessTTL <= 0 {
		conf.AccessTTL = 10 * time.Minute
	}
	if conf.RefreshTTL <= 0 {
		conf.RefreshTTL = 720 * time.Hour
	}
	if conf.ForensicWindow <= 0 {
		conf.ForensicWindow = 720 * time.Hour
	}
	if conf.Issuer == "" {
		conf.Issuer = "sentra"
	}

	log := conf.Logger

	auditor := audit.NewManager(log)
	for name, sink := range conf.AuditSinks {
		if err := auditor.RegisterSink(name, sink); err != nil {
			return nil, err
		}
	}

	// Retired keys must verify until the last token they signed expires.
	keys, err := keyring.NewRegistry(context.Background(), conf.Backend, conf.Seal, conf.AccessTTL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key registry: %w", err)
	}

	denylist := conf.Denylist
	if denylist == nil {
		denylist, err = token.NewInmemDenylist()
		if err != nil {
			return nil, err
		}
	}

	sessions := session.NewStore(conf.Backend, conf.RefreshTTL, conf.ForensicWindow, log)

	policyStore := policy.NewStore(conf.Backend, log)
	policyCache, err := policy.NewCache(policyStore, conf.PolicyCacheSize, conf.PolicyStaleness, log)
	if err != nil {
		return nil, err
	}

	c := &Core{
		backend:     conf.Backend,
		keys:        keys,
		sessions:    sessions,
		issuer:      token.NewIssuer(keys, conf.Issuer, conf.AccessTTL),
		verifier:    token.NewVerifier(keys, denylist, log),
		denylist:    denylist,
		policyStore: policyStore,
		policyCache: policyCache,
		evaluator:   policy.NewEvaluator(policyCache, auditor, log),
		auditor:     auditor,
		denylistTTL: 2 * conf.AccessTTL,
		logger:      log.WithSubsystem("core"),
		stopCh:      make(chan struct{}),
	}
	return c, nil
}

// Keys exposes the key registry to the admin surface.
func (c *Core) Keys() *keyring.Registry { return c.keys }

// Sessions exposes the session store to the admin surface.
func (c *Core) Sessions() *session.Store { return c.sessions }

// Policies exposes the policy store to the admin surface.
func (c *Core) Policies() *policy.Store { return c.policyStore }

// Metrics returns verifier counters plus the audit drop count.
func (c *Core) Metrics() map[string]int64 {
	m := c.verifier.MetricsSnapshot()
	m["audit_events_dropped"] = int64(c.auditor.Dropped())
	return m
}

// Shutdown stops background loops, flushes the audit pipeline, and closes
// everything holding external resources. Safe to call once.
func (c *Core) Shutdown() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()

	var result *multierror.Error
	if err := c.auditor.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.denylist.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if closer, ok := c.backend.(storage.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.logger.Info("core shut down")
	return result.ErrorOrNil()
}
