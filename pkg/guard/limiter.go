package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
)

const (
	concurrencyKeyPrefix = "bi:concurrency"
	releaseTimeout       = 2 * time.Second
)

// ReleaseFunc gives a concurrency slot back. Calling it more than once is a no-op.
type ReleaseFunc func()

// Limiter admits guarded queries against per-user and per-organization
// concurrency ceilings.
type Limiter struct {
	cfg     Config
	shared  CounterStore
	local   *MemoryStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewLimiter creates a limiter. shared may be nil, in which case only the
// process-local store is used. When shared fails, admission falls back to
// the local store with the same ceilings.
func NewLimiter(cfg Config, shared CounterStore, m *metrics.Metrics, logger *zap.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		shared:  shared,
		local:   NewMemoryStore(),
		metrics: m,
		logger:  logger.Named("limiter"),
	}
}

// storeError marks a counter store failure, as opposed to a limit rejection.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func userKey(userID string) string {
	return concurrencyKeyPrefix + ":user:" + userID
}

func orgKey(orgID string) string {
	return concurrencyKeyPrefix + ":org:" + orgID
}

// Acquire takes one slot for userID and, when orgID is non-empty, one for
// the organization. The returned ReleaseFunc must be called when the
// statement finishes, on every exit path.
func (l *Limiter) Acquire(ctx context.Context, userID, orgID string) (ReleaseFunc, error) {
	store := CounterStore(l.local)
	if l.shared != nil {
		store = l.shared
	}

	err := l.acquireOn(ctx, store, userID, orgID)
	var se *storeError
	if errors.As(err, &se) && store != CounterStore(l.local) {
		l.logger.Warn("Shared concurrency store unavailable, using local counters",
			zap.String("error", logging.SanitizeError(se.err)))
		store = l.local
		err = l.acquireOn(ctx, store, userID, orgID)
	}
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			l.metrics.AdmissionRejected(string(appErr.Scope))
		}
		return nil, err
	}

	l.metrics.SlotAcquired()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.release(store, userID, orgID)
			l.metrics.SlotReleased()
		})
	}, nil
}

func (l *Limiter) acquireOn(ctx context.Context, store CounterStore, userID, orgID string) error {
	ttl := l.cfg.SlotTTL()

	n, err := store.Incr(ctx, userKey(userID), ttl)
	if err != nil {
		return &storeError{err: err}
	}
	if n > int64(l.cfg.MaxConcurrentPerUser) {
		l.decr(ctx, store, userKey(userID))
		return apperrors.ConcurrencyExceeded(apperrors.ScopeUser)
	}

	if orgID == "" {
		return nil
	}

	n, err = store.Incr(ctx, orgKey(orgID), ttl)
	if err != nil {
		l.decr(ctx, store, userKey(userID))
		return &storeError{err: err}
	}
	if n > int64(l.cfg.MaxConcurrentPerOrg) {
		l.decr(ctx, store, orgKey(orgID))
		l.decr(ctx, store, userKey(userID))
		return apperrors.ConcurrencyExceeded(apperrors.ScopeOrg)
	}
	return nil
}

// release runs detached from the request context so a cancelled request
// still hands its slot back.
func (l *Limiter) release(store CounterStore, userID, orgID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	l.decr(ctx, store, userKey(userID))
	if orgID != "" {
		l.decr(ctx, store, orgKey(orgID))
	}
}

func (l *Limiter) decr(ctx context.Context, store CounterStore, key string) {
	if _, err := store.Decr(ctx, key); err != nil {
		l.logger.Warn("Failed to release concurrency counter; it will expire",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
	}
}
