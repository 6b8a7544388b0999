package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentra-id/sentra/helper"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
)

const (
	sessionPrefix = "core/sessions/"
	refreshPrefix = "core/sessionrefs/"
)

// Store keeps sessions and refresh records in a storage backend. All writes
// to one session are serialized through a striped lock set, so the rotate
// branch below never races into a false replay verdict. Different sessions
// proceed in parallel.
type Store struct {
	backend        storage.Backend
	locks          []*storage.LockEntry
	refreshTTL     time.Duration
	forensicWindow time.Duration
	logger         logger.Logger
}

// NewStore builds a session store. refreshTTL bounds the lifetime of every
// refresh record; forensicWindow is how long dead state is retained for
// investigation before PurgeExpired removes it.
func NewStore(backend storage.Backend, refreshTTL, forensicWindow time.Duration, log logger.Logger) *Store {
	return &Store{
		backend:        backend,
		locks:          storage.CreateLocks(),
		refreshTTL:     refreshTTL,
		forensicWindow: forensicWindow,
		logger:         log.WithSubsystem("session"),
	}
}

// RefreshTTL reports the configured refresh record lifetime.
func (s *Store) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Create opens a new session at generation zero together with its first
// refresh record. secretHash is the hash of the client's refresh secret.
func (s *Store) Create(ctx context.Context, tenantID, principalID, fingerprint, secretHash string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          helper.GenerateSessionID(),
		TenantID:    tenantID,
		PrincipalID: principalID,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastSeenAt:  now,
	}

	lock := storage.LockForKey(s.locks, sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.putRecord(ctx, &RefreshRecord{
		SecretHash: secretHash,
		SessionID:  sess.ID,
		Generation: 0,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}); err != nil {
		return nil, err
	}
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Debug("session created",
		logger.String("session_id", sess.ID),
		logger.String("tenant_id", tenantID))
	return sess, nil
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	lock := storage.LockForKey(s.locks, sessionID)
	lock.RLock()
	defer lock.RUnlock()
	return s.getSession(ctx, sessionID)
}

// Rotate performs the refresh state transition for one session. providedHash
// is the hash of the secret the client presented, nextHash the hash of the
// replacement secret. Exactly one of three outcomes happens:
//
//   - the record matches the session's current generation and is unconsumed:
//     the record is consumed, the generation increments, and a new record is
//     written at the new generation;
//   - the record is from an older generation or already consumed: this is a
//     replay, the whole session is revoked and ErrReplayDetected returned;
//   - the session is already revoked: ErrRevoked.
//
// Serialization is process-local (striped locks). Deployments sharing one
// storage backend must route a session's rotations to a single instance.
func (s *Store) Rotate(ctx context.Context, sessionID, providedHash, nextHash, fingerprint string) (*Session, error) {
	lock := storage.LockForKey(s.locks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if sess.Revoked {
		return nil, ErrRevoked
	}

	if sess.Fingerprint != "" && fingerprint != "" && sess.Fingerprint != fingerprint {
		if err := s.revokeLocked(ctx, sess, "fingerprint mismatch"); err != nil {
			return nil, err
		}
		s.logger.Warn("session revoked on fingerprint mismatch",
			logger.String("session_id", sess.ID),
			logger.String("tenant_id", sess.TenantID))
		return nil, ErrFingerprintMismatch
	}

	rec, err := s.getRecord(ctx, sessionID, providedHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	now := time.Now().UTC()
	if now.After(rec.ExpiresAt) {
		return nil, ErrInvalidRefresh
	}

	if rec.Generation != sess.Generation || rec.Consumed {
		if err := s.revokeLocked(ctx, sess, "refresh replay"); err != nil {
			return nil, err
		}
		s.logger.Warn("session revoked on refresh replay",
			logger.String("session_id", sess.ID),
			logger.String("tenant_id", sess.TenantID),
			logger.Uint64("record_generation", rec.Generation),
			logger.Uint64("session_generation", sess.Generation))
		return nil, ErrReplayDetected
	}

	// Consume the old record before anything else. A crash after this
	// write leaves no valid record, which fails safe: the client simply
	// re-authenticates.
	rec.Consumed = true
	rec.ConsumedAt = &now
	if err := s.putRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, &RefreshRecord{
		SecretHash: nextHash,
		SessionID:  sess.ID,
		Generation: sess.Generation + 1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}); err != nil {
		return nil, err
	}

	sess.Generation++
	sess.LastSeenAt = now
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Revoke marks the session revoked and consumes all of its outstanding
// refresh records. Calling it on an already revoked session is a no-op.
func (s *Store) Revoke(ctx context.Context, sessionID, reason string) (*Session, error) {
	lock := storage.LockForKey(s.locks, sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Revoked {
		return sess, nil
	}
	if err := s.revokeLocked(ctx, sess, reason); err != nil {
		return nil, err
	}
	s.logger.Info("session revoked",
		logger.String("session_id", sess.ID),
		logger.String("tenant_id", sess.TenantID),
		logger.String("reason", reason))
	return sess, nil
}

func (s *Store) revokeLocked(ctx context.Context, sess *Session, reason string) error {
	now := time.Now().UTC()

	hashes, err := s.backend.List(ctx, refreshPrefix+sess.ID+"/")
	if err != nil {
		return fmt.Errorf("failed to list refresh records: %w", err)
	}
	for _, hash := range hashes {
		rec, err := s.getRecord(ctx, sess.ID, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if rec.Consumed {
			continue
		}
		rec.Consumed = true
		rec.ConsumedAt = &now
		if err := s.putRecord(ctx, rec); err != nil {
			return err
		}
	}

	sess.Revoked = true
	sess.RevokeReason = reason
	sess.RevokedAt = &now
	return s.putSession(ctx, sess)
}

// PurgeExpired physically deletes sessions whose forensic retention has
// elapsed: revoked sessions past revocation plus the window, and idle
// sessions past refresh expiry plus the window. It returns the number of
// sessions removed and is safe to run concurrently with live traffic.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.backend.List(ctx, sessionPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	purged := 0
	for _, id := range ids {
		lock := storage.LockForKey(s.locks, id)
		lock.Lock()

		sess, err := s.getSession(ctx, id)
		if err != nil {
			lock.Unlock()
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return purged, err
		}

		var deadAt time.Time
		if sess.Revoked && sess.RevokedAt != nil {
			deadAt = *sess.RevokedAt
		} else {
			deadAt = sess.LastSeenAt.Add(s.refreshTTL)
		}
		if now.Before(deadAt.Add(s.forensicWindow)) {
			lock.Unlock()
			continue
		}

		if err := s.deleteLocked(ctx, sess.ID); err != nil {
			lock.Unlock()
			return purged, err
		}
		lock.Unlock()
		purged++
	}

	if purged > 0 {
		s.logger.Info("purged expired sessions", logger.Int("count", purged))
	}
	return purged, nil
}

func (s *Store) deleteLocked(ctx context.Context, sessionID string) error {
	hashes, err := s.backend.List(ctx, refreshPrefix+sessionID+"/")
	if err != nil {
		return fmt.Errorf("failed to list refresh records: %w", err)
	}
	for _, hash := range hashes {
		if err := s.backend.Delete(ctx, refreshPrefix+sessionID+"/"+hash); err != nil {
			return fmt.Errorf("failed to delete refresh record: %w", err)
		}
	}
	if err := s.backend.Delete(ctx, sessionPrefix+sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) putSession(ctx context.Context, sess *Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.backend.Put(ctx, &storage.Entry{Key: sessionPrefix + sess.ID, Value: buf}); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*Session, error) {
	entry, err := s.backend.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	sess := &Session{}
	if err := json.Unmarshal(entry.Value, sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return sess, nil
}

func (s *Store) putRecord(ctx context.Context, rec *RefreshRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode refresh record: %w", err)
	}
	key := refreshPrefix + rec.SessionID + "/" + rec.SecretHash
	if err := s.backend.Put(ctx, &storage.Entry{Key: key, Value: buf}); err != nil {
		return fmt.Errorf("failed to persist refresh record: %w", err)
	}
	return nil
}

func (s *Store) getRecord(ctx context.Context, sessionID, secretHash string) (*RefreshRecord, error) {
	entry, err := s.backend.Get(ctx, refreshPrefix+sessionID+"/"+secretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh record: %w", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	rec := &RefreshRecord{}
	if err := json.Unmarshal(entry.Value, rec); err != nil {
		return nil, fmt.Errorf("failed to decode refresh record: %w", err)
	}
	return rec, nil
}
