package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"squaresync/internal/state"
)

// Marker records "what we last set and when" for one direction of the sync.
// An inbound event matching a live marker is an echo of our own write.
type Marker struct {
	Quantity int       `json:"quantity"`
	At       time.Time `json:"at"`
}

// Deduplicator suppresses re-ingestion of our own writes. Suppression is
// equality-based: a different quantity inside the window is a legitimate
// rapid second change and must still be applied.
type Deduplicator struct {
	store  state.Store
	window time.Duration
	now    func() time.Time
}

func NewDeduplicator(store state.Store, window time.Duration) *Deduplicator {
	return &Deduplicator{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the deduplicator's clock. Test hook.
func (d *Deduplicator) SetClock(now func() time.Time) {
	d.now = now
}

// Window returns the echo-suppression window.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// IsEcho reports whether an incoming quantity matches a marker still inside
// the window. Store errors read as "no marker": failing open means at worst
// a redundant write, never a missed change.
func (d *Deduplicator) IsEcho(ctx context.Context, key state.Key, quantity int) bool {
	marker, err := d.Peek(ctx, key)
	if err != nil || marker == nil {
		return false
	}
	return marker.Quantity == quantity && d.now().Sub(marker.At) < d.window
}

// Mark records a marker for key, overwriting any previous one.
func (d *Deduplicator) Mark(ctx context.Context, key state.Key, quantity int) error {
	raw, err := json.Marshal(Marker{Quantity: quantity, At: d.now()})
	if err != nil {
		return err
	}
	return d.store.Set(ctx, key, string(raw), d.window)
}

// Peek returns the live marker for key, or nil when absent or expired.
func (d *Deduplicator) Peek(ctx context.Context, key state.Key) (*Marker, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var marker Marker
	if err := json.Unmarshal([]byte(raw), &marker); err != nil {
		return nil, err
	}
	if d.now().Sub(marker.At) >= d.window {
		return nil, nil
	}
	return &marker, nil
}
