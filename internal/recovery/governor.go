package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/alerting"
	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/storage"
)

// Strategy names a recovery method. The mapping from failure kind to strategy
// is fixed and is part of the operational contract.
type Strategy string

const (
	StrategyRetryBackoff    Strategy = "retry_with_backoff"
	StrategyReconnect       Strategy = "reconnect"
	StrategyFallbackStorage Strategy = "fallback_storage"
	StrategyClearAndRetry   Strategy = "clear_and_retry"
	StrategyRestoreBackup   Strategy = "restore_from_backup"
	StrategyOfflineMode     Strategy = "offline_mode"
	StrategyPermissionRetry Strategy = "permission_retry"
)

// StrategyFor returns the recovery strategy for a failure kind. The second
// return is false for kinds with no automatic recovery; the governor never
// invents a strategy for those.
func StrategyFor(kind FailureKind) (Strategy, bool) {
	switch kind {
	case KindTimeout:
		return StrategyRetryBackoff, true
	case KindConnection:
		return StrategyReconnect, true
	case KindStorage:
		return StrategyFallbackStorage, true
	case KindMemory:
		return StrategyClearAndRetry, true
	case KindCorruption:
		return StrategyRestoreBackup, true
	case KindNetwork:
		return StrategyOfflineMode, true
	case KindPermission:
		return StrategyPermissionRetry, true
	}
	return "", false
}

// Outcome reports what recovery did for one operation.
type Outcome struct {
	RecoveryAttempted  bool          `json:"recovery_attempted"`
	RecoverySuccessful bool          `json:"recovery_successful"`
	Method             Strategy      `json:"method,omitempty"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Target is the per-layer surface the governor recovers through. Every cache
// layer implements it.
type Target interface {
	ID() models.Layer
	PrimaryStore() storage.Store
	// FallbackStore is the in-memory store substituted for a single
	// operation after a storage failure.
	FallbackStore() storage.Store
	// OfflineStore serves reads when the network is unavailable. It must
	// never block on network I/O.
	OfflineStore() storage.Store
	Reconnect(ctx context.Context) error
	ClearCache(ctx context.Context) error
	RestoreFromBackup(ctx context.Context, key string) error
	RefreshCredentials(ctx context.Context) error
}

// Operation is a single layer operation, re-executable against an alternate
// store when a strategy swaps storage out from under it.
type Operation func(ctx context.Context, st storage.Store) error

// Governor executes operations under the retry policy and applies the
// recovery strategy matching each classified failure. Recovery failures
// degrade the operation, never crash it.
type Governor struct {
	policy  RetryPolicy
	alerts  alerting.Sink
	metrics *alerting.Metrics
	logger  *logrus.Logger

	// wait is swapped out in tests to avoid real backoff sleeps.
	wait func(ctx context.Context, d time.Duration) error
}

// NewGovernor creates a governor. alerts may be nil (no escalation) and
// metrics may be nil.
func NewGovernor(policy RetryPolicy, alerts alerting.Sink, metrics *alerting.Metrics, logger *logrus.Logger) *Governor {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	if alerts == nil {
		alerts = alerting.NopSink{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Governor{
		policy:  policy,
		alerts:  alerts,
		metrics: metrics,
		logger:  logger,
		wait:    sleep,
	}
}

// Policy returns the governor's retry policy.
func (g *Governor) Policy() RetryPolicy { return g.policy }

// Execute runs op with up to MaxAttempts attempts, routing each failure
// through its recovery strategy. key is the cache key involved, used by the
// restore-from-backup strategy; pass "" for key-less operations.
func (g *Governor) Execute(ctx context.Context, target Target, key string, op Operation) (Outcome, error) {
	var out Outcome
	st := target.PrimaryStore()
	applied := make(map[Strategy]bool)

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		err := op(ctx, st)
		if err == nil {
			if out.RecoveryAttempted {
				out.RecoverySuccessful = true
				g.metrics.Recovery(string(out.Method), true)
			}
			return out, nil
		}
		lastErr = err

		kind := Classify(err)
		g.metrics.Error(string(target.ID()), string(kind))
		strategy, recoverable := StrategyFor(kind)
		if !recoverable {
			// Unknown failure kinds are surfaced unchanged.
			return out, err
		}
		if strategy != StrategyRetryBackoff && applied[strategy] {
			// One-shot strategies get exactly one recovery attempt.
			break
		}
		if attempt == g.policy.MaxAttempts {
			break
		}

		out.RecoveryAttempted = true
		out.Method = strategy
		start := time.Now()
		rerr := g.apply(ctx, target, strategy, key, attempt, &st)
		out.Elapsed += time.Since(start)
		applied[strategy] = true

		g.logger.WithFields(logrus.Fields{
			"layer":    target.ID(),
			"kind":     kind,
			"strategy": strategy,
			"attempt":  attempt,
		}).Warn("cache operation failed, recovery applied")

		if rerr != nil {
			g.metrics.Recovery(string(strategy), false)
			if strategy == StrategyRestoreBackup {
				g.escalateCorruption(target, key, rerr)
			}
			return out, err
		}
	}

	if out.RecoveryAttempted {
		g.metrics.Recovery(string(out.Method), false)
	}
	return out, lastErr
}

func (g *Governor) apply(ctx context.Context, target Target, strategy Strategy, key string, attempt int, st *storage.Store) error {
	switch strategy {
	case StrategyRetryBackoff:
		return g.wait(ctx, g.policy.Delay(attempt))
	case StrategyReconnect:
		return target.Reconnect(ctx)
	case StrategyFallbackStorage:
		*st = target.FallbackStore()
		return nil
	case StrategyClearAndRetry:
		return target.ClearCache(ctx)
	case StrategyRestoreBackup:
		return target.RestoreFromBackup(ctx, key)
	case StrategyOfflineMode:
		*st = target.OfflineStore()
		return nil
	case StrategyPermissionRetry:
		return target.RefreshCredentials(ctx)
	}
	return fmt.Errorf("no recovery strategy %q", strategy)
}

// escalateCorruption reports unrepairable corruption: the one failure that
// means data loss for a key rather than transient unavailability.
func (g *Governor) escalateCorruption(target Target, key string, restoreErr error) {
	g.alerts.Emit(alerting.Event{
		Component: "recovery",
		Level:     alerting.LevelCritical,
		Message:   "corrupted entry could not be restored from backup",
		Timestamp: time.Now(),
		Metrics: map[string]interface{}{
			"layer": string(target.ID()),
			"key":   key,
			"error": restoreErr.Error(),
		},
	})
}
