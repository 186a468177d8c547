package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"squaresync/internal/audit"
	"squaresync/internal/catalog"
	"squaresync/internal/logger"
	"squaresync/internal/services/square"
	"squaresync/internal/state"

	"github.com/cenkalti/backoff"
)

// Reconciliation methods, recorded in results and zero-audit state.
const (
	MethodNoop               = "noop"
	MethodPhysicalCount      = "physical_count"
	MethodAdjustment         = "adjustment"
	MethodAdjustmentFallback = "adjustment_fallback_physical"
)

// Result describes what a reconciliation did. Before is -1 when the current
// count could not be read.
type Result struct {
	Applied bool   `json:"applied"`
	Method  string `json:"method"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
}

// ZeroAttempt is the persisted metadata of the most recent zero-set attempt.
type ZeroAttempt struct {
	Method string    `json:"method"`
	Before int       `json:"before"`
	At     time.Time `json:"at"`
}

// Reconciler drives a Square variation's in-stock count to a desired
// quantity. Nonzero targets are a single absolute set; zero targets go
// through the force-zero protocol: Square models inventory as a ledger of
// state transitions and can silently no-op an absolute set to 0, so the
// known current quantity is depleted with an IN_STOCK to NONE adjustment,
// verified, and only then overwritten as a last resort.
type Reconciler struct {
	square *square.Client
	dedup  *Deduplicator
	store  state.Store
	audit  audit.Publisher
	logger *logger.Logger

	WriteRetryDelay      time.Duration
	VerifyDelays         [2]time.Duration
	PreZeroRetention     time.Duration
	ZeroAttemptRetention time.Duration
}

func NewReconciler(squareClient *square.Client, dedup *Deduplicator, store state.Store, auditPub audit.Publisher, logger *logger.Logger) *Reconciler {
	return &Reconciler{
		square:               squareClient,
		dedup:                dedup,
		store:                store,
		audit:                auditPub,
		logger:               logger,
		WriteRetryDelay:      2 * time.Second,
		VerifyDelays:         [2]time.Duration{time.Second, 3 * time.Second},
		PreZeroRetention:     7 * 24 * time.Hour,
		ZeroAttemptRetention: 24 * time.Hour,
	}
}

// Reconcile makes the variation's in-stock count at the location equal
// desired. The self-write marker is refreshed on every successful path,
// including no-ops: the invariant protected is "we have seen this quantity
// at this time", not "we wrote it".
func (r *Reconciler) Reconcile(ctx context.Context, identity catalog.Identity, locationID string, desired int) (Result, error) {
	if desired < 0 {
		return Result{}, fmt.Errorf("desired quantity must be non-negative, got %d", desired)
	}
	if desired == 0 {
		return r.forceZero(ctx, identity.VariationID, locationID)
	}
	return r.setNonzero(ctx, identity.VariationID, locationID, desired)
}

func (r *Reconciler) setNonzero(ctx context.Context, variationID, locationID string, desired int) (Result, error) {
	current, fetchErr := r.square.RetrieveInventoryCount(ctx, variationID, locationID)
	if fetchErr != nil {
		// An unknown current must not block correction; a write failure is
		// the actionable signal.
		r.logger.Warn("count fetch failed for %s, writing anyway: %v", variationID, fetchErr)
	}

	before := -1
	if fetchErr == nil {
		before = current
	}

	if fetchErr == nil && current == desired {
		r.mark(ctx, variationID, desired)
		return Result{Applied: false, Method: MethodNoop, Before: current, After: current}, nil
	}

	if err := r.setAbsolute(ctx, variationID, locationID, desired); err != nil {
		return Result{Applied: false, Method: MethodPhysicalCount, Before: before, After: before},
			fmt.Errorf("inventory write failed for %s: %w", variationID, err)
	}
	r.mark(ctx, variationID, desired)

	if verify, err := r.square.RetrieveInventoryCount(ctx, variationID, locationID); err == nil && verify != desired {
		r.logger.Warn("verification mismatch for %s: wrote %d, read back %d", variationID, desired, verify)
	}

	return Result{Applied: true, Method: MethodPhysicalCount, Before: before, After: desired}, nil
}

// forceZero never short-circuits on a stale zero: current state is always
// re-verified fresh before deciding.
func (r *Reconciler) forceZero(ctx context.Context, variationID, locationID string) (Result, error) {
	zero := 0
	r.audit.Publish(ctx, audit.Event{
		Event:       audit.EventZeroRequested,
		Direction:   audit.DirectionCartToPOS,
		VariationID: variationID,
		Quantity:    &zero,
		Detail:      map[string]interface{}{"location_id": locationID},
	})
	r.logger.Info("inventory zero requested for variation %s at %s", variationID, locationID)

	current, fetchErr := r.square.RetrieveInventoryCount(ctx, variationID, locationID)

	if fetchErr == nil && current == 0 {
		// The only legitimate zero no-op path.
		r.mark(ctx, variationID, 0)
		return Result{Applied: false, Method: MethodNoop, Before: 0, After: 0}, nil
	}

	if fetchErr != nil {
		// Nothing actionable but a blind absolute zero.
		r.logger.Warn("count fetch failed for %s, applying blind zero: %v", variationID, fetchErr)
		r.recordZeroAttempt(ctx, variationID, MethodPhysicalCount, -1)
		if err := r.setAbsolute(ctx, variationID, locationID, 0); err != nil {
			return Result{Applied: false, Method: MethodPhysicalCount, Before: -1, After: -1},
				fmt.Errorf("blind zero write failed for %s: %w", variationID, err)
		}
		r.mark(ctx, variationID, 0)
		return Result{Applied: true, Method: MethodPhysicalCount, Before: -1, After: 0}, nil
	}

	// current > 0: deplete the ledger with a relative adjustment.
	if err := r.store.Set(ctx, state.PreZeroQuantity(variationID), strconv.Itoa(current), r.PreZeroRetention); err != nil {
		r.logger.Warn("failed to persist pre-zero quantity for %s: %v", variationID, err)
	}
	r.recordZeroAttempt(ctx, variationID, MethodAdjustment, current)

	if err := r.square.AdjustToNone(ctx, variationID, locationID, current); err != nil {
		r.logger.Warn("zero adjustment failed outright for %s, falling back to absolute set: %v", variationID, err)
		return r.fallbackZero(ctx, variationID, locationID, current)
	}

	// Propagation lag is expected; verify twice before falling back.
	for _, delay := range r.VerifyDelays {
		if err := r.sleep(ctx, delay); err != nil {
			return Result{}, err
		}
		verify, err := r.square.RetrieveInventoryCount(ctx, variationID, locationID)
		if err == nil && verify == 0 {
			r.mark(ctx, variationID, 0)
			return Result{Applied: true, Method: MethodAdjustment, Before: current, After: 0}, nil
		}
	}

	r.logger.Warn("zero adjustment did not verify for %s, falling back to absolute set", variationID)
	return r.fallbackZero(ctx, variationID, locationID, current)
}

func (r *Reconciler) fallbackZero(ctx context.Context, variationID, locationID string, before int) (Result, error) {
	r.recordZeroAttempt(ctx, variationID, MethodAdjustmentFallback, before)
	if err := r.setAbsolute(ctx, variationID, locationID, 0); err != nil {
		return Result{Applied: false, Method: MethodAdjustmentFallback, Before: before, After: before},
			fmt.Errorf("zero fallback write failed for %s: %w", variationID, err)
	}
	r.mark(ctx, variationID, 0)
	return Result{Applied: true, Method: MethodAdjustmentFallback, Before: before, After: 0}, nil
}

// setAbsolute submits a PHYSICAL_COUNT, retrying once after a short delay.
func (r *Reconciler) setAbsolute(ctx context.Context, variationID, locationID string, quantity int) error {
	op := func() error {
		return r.square.SetPhysicalCount(ctx, variationID, locationID, quantity)
	}
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(r.WriteRetryDelay), 1))
}

func (r *Reconciler) mark(ctx context.Context, variationID string, quantity int) {
	if err := r.dedup.Mark(ctx, state.MarkerForVariation(variationID), quantity); err != nil {
		r.logger.Warn("failed to record self-write marker for %s: %v", variationID, err)
	}
}

func (r *Reconciler) recordZeroAttempt(ctx context.Context, variationID, method string, before int) {
	raw, err := json.Marshal(ZeroAttempt{Method: method, Before: before, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, state.LastZeroAttempt(variationID), string(raw), r.ZeroAttemptRetention); err != nil {
		r.logger.Warn("failed to record zero attempt for %s: %v", variationID, err)
	}
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
