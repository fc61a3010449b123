package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

// Reconciler finishes transactions whose in-process follow-up was lost,
// for example because the server restarted before a receipt arrived.
type Reconciler struct {
	Engine       Engine
	Interval     time.Duration
	PendingAfter time.Duration
	AbandonAfter time.Duration
	BatchSize    int
	Logger       *slog.Logger
	// OnChecked, when set, is called after each transaction is examined.
	OnChecked func(domain.ChainTx)
}

// SweepReport counts the outcome of one sweep.
type SweepReport struct {
	Checked   int `json:"checked"`
	Resolved  int `json:"resolved"`
	Abandoned int `json:"abandoned"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// NewReconciler configures a reconciler from the engine's config.
func NewReconciler(e Engine) *Reconciler {
	cfg := e.config().Reconcile
	return &Reconciler{
		Engine:       e,
		Interval:     cfg.Interval,
		PendingAfter: cfg.PendingAfter,
		AbandonAfter: cfg.AbandonAfter,
		BatchSize:    cfg.BatchSize,
		Logger:       e.logger(),
	}
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run sweeps every Interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if report, err := r.Sweep(ctx); err != nil {
			r.logger().Error("reconcile sweep failed", "error", err)
		} else if report.Checked > 0 {
			r.logger().Info("reconcile sweep", "checked", report.Checked, "resolved", report.Resolved,
				"abandoned", report.Abandoned, "pending", report.Pending, "errors", report.Errors)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pending lists submitted transactions older than PendingAfter.
func (r *Reconciler) Pending(ctx context.Context) ([]domain.ChainTx, error) {
	cutoff := r.Engine.now().Add(-r.PendingAfter).UTC().Format(time.RFC3339)
	return r.Engine.Repo.ListPendingChainTxs(ctx, cutoff, r.BatchSize)
}

// Sweep re-queries receipts for stale transactions once. Transactions with
// no receipt after AbandonAfter are marked failed.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	var (
		mu     sync.Mutex
		report SweepReport
	)
	record := func(ct domain.ChainTx, result string) {
		mu.Lock()
		report.Checked++
		switch result {
		case "resolved":
			report.Resolved++
		case "abandoned":
			report.Abandoned++
		case "pending":
			report.Pending++
		default:
			report.Errors++
		}
		mu.Unlock()
		if r.Engine.Metrics != nil {
			r.Engine.Metrics.ReconcileSweeps.WithLabelValues(result).Inc()
		}
		if r.OnChecked != nil {
			r.OnChecked(ct)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Engine.config().Chain.ReadConcurrency)
	for _, ct := range pending {
		g.Go(func() error {
			record(ct, r.check(gctx, ct))
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, ct domain.ChainTx) string {
	resolved, err := r.Engine.ResolveTx(ctx, ct.Hash)
	if err != nil {
		r.logger().Warn("receipt recheck failed", "hash", ct.Hash, "error", err)
		return "error"
	}
	if resolved {
		return "resolved"
	}
	created, err := time.Parse(time.RFC3339, ct.CreatedAt)
	if err != nil || r.Engine.now().Sub(created) < r.AbandonAfter {
		return "pending"
	}
	abandoned, err := r.Engine.AbandonTx(ctx, ct.Hash, "dropped")
	if err != nil {
		r.logger().Warn("abandon failed", "hash", ct.Hash, "error", err)
		return "error"
	}
	if abandoned {
		return "abandoned"
	}
	return "resolved"
}
