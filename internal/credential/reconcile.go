package credential

import (
	"context"
	"errors"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/audit"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
)

// RedemptionSource lists redeemed credential hashes held by the recorder.
// Satisfied by the S2S client.
type RedemptionSource interface {
	ListRedeemed(ctx context.Context, electionID string) (map[string]time.Time, error)
}

// Reconciler periodically asks the recorder which registered hashes have been
// used and mirrors that onto local records. The recorder is authoritative:
// the local flag only ever flips false to true, never back. This covers
// redemption reports the fire-and-forget path lost.
type Reconciler struct {
	svc       *Service
	source    RedemptionSource
	elections []string
	interval  time.Duration
}

// NewReconciler builds a reconciler over the given election ids.
func NewReconciler(svc *Service, source RedemptionSource, elections []string, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{
		svc:       svc,
		source:    source,
		elections: elections,
		interval:  interval,
	}
}

// Run reconciles on the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileAll(ctx)
		}
	}
}

func (r *Reconciler) reconcileAll(ctx context.Context) {
	for _, electionID := range r.elections {
		if err := r.ReconcileElection(ctx, electionID); err != nil {
			obs.LogRequest(map[string]any{
				"ts":          time.Now().UTC().Format(time.RFC3339Nano),
				"level":       "warn",
				"msg":         "redemption_reconcile_failed",
				"election_id": electionID,
				"error":       err.Error(),
			})
		}
	}
}

// ReconcileElection pulls the redeemed-hash set for one election and updates
// local records. Hashes unknown locally are skipped; the sweep may already
// have cleared them.
func (r *Reconciler) ReconcileElection(ctx context.Context, electionID string) error {
	redeemed, err := r.source.ListRedeemed(ctx, electionID)
	if err != nil {
		return err
	}
	var updated int
	for hash, at := range redeemed {
		err := r.svc.MarkRedeemed(ctx, hash, at)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		updated++
	}
	if updated > 0 {
		_ = audit.LogEvent(ctx, "credential.redemptions_reconciled", map[string]any{
			"election_id": electionID,
			"updated":     updated,
		})
	}
	return nil
}
