package market

import "context"

// PriceStore is the storage collaborator used for last-known-price fallback.
// The core only reads from it and emits observations; it never owns the data.
type PriceStore interface {
	// LastObserved returns the most recent observation for key, or (nil, nil) when none exists.
	LastObserved(ctx context.Context, key string) (*Observation, error)
	// RecordObservation stores a freshly observed current price.
	RecordObservation(ctx context.Context, obs Observation) error
}
