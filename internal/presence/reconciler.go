package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/gkkary3/Netless/internal/metrics"
	"go.uber.org/zap"
)

// StaleDemoter flips is_online to false for users whose last_seen is older
// than cutoff.
type StaleDemoter interface {
	DemoteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reconciler periodically demotes users whose persisted state says online
// but whose heartbeat stopped, covering connections that dropped without a
// disconnect. It never touches the in-memory Registry.
type Reconciler struct {
	dir        StaleDemoter
	staleAfter time.Duration
	cronExpr   string
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewReconciler returns a reconciler that sweeps on cronExpr and treats
// last_seen older than staleAfter as stale.
func NewReconciler(dir StaleDemoter, staleAfter time.Duration, cronExpr string, m *metrics.Metrics, log *zap.Logger) (*Reconciler, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cronExpr)
	}
	if staleAfter <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive, got %s", staleAfter)
	}
	return &Reconciler{
		dir:        dir,
		staleAfter: staleAfter,
		cronExpr:   cronExpr,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}, nil
}

// Sweep runs one reconciliation pass and returns how many users it demoted.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.staleAfter)
	n, err := r.dir.DemoteStale(ctx, cutoff)
	if err != nil {
		r.metrics.Sweeps.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("demote stale users: %w", err)
	}
	r.metrics.Sweeps.WithLabelValues("ok").Inc()
	r.metrics.Demoted.Add(float64(n))
	if n > 0 {
		r.log.Info("presence_reconcile_demoted", zap.Int64("demoted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps on every cron tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("presence_reconciler_started", zap.String("cron", r.cronExpr), zap.Duration("stale_after", r.staleAfter))
	for {
		next, err := gronx.NextTickAfter(r.cronExpr, r.now(), false)
		wait := time.Until(next)
		if err != nil {
			r.log.Error("presence_reconciler_nexttick_failed", zap.String("cron", r.cronExpr), zap.Error(err))
			wait = 30 * time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("presence_reconciler_stopping")
			return
		case <-timer.C:
		}

		if err == nil {
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("presence_reconcile_failed", zap.Error(err))
			}
		}
	}
}
