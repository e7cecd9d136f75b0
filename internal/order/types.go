// Package order implements the ordering orchestrator (spec.md §4.9): a
// linear pipeline from a raw grocery list to a submitted cart, built over
// the authentication service (C7), the per-user external-service session
// registry (C8), and C3's availability cache for the external-login check.
// Store calls go to StoreClient directly; they are not wrapped in a circuit
// breaker or a backoff retry loop. Grounded on the
// teacher's background-worker shape (ticker + context-aware pacing, as in
// the sibling pack's escalation engine) generalized from a polling loop to
// a per-request linear pipeline.
package order

import "time"

// Atom is one normalized grocery-list entry: spec.md §4.9 stage 1's
// {item_name, quantity, unit}.
type Atom struct {
	ItemName string
	Quantity float64
	Unit     string
}

// Candidate is one product search result for an Atom.
type Candidate struct {
	ProductID      string
	Name           string
	PackSize       float64
	Price          float64
	HasActiveOffer bool
	Available      bool
	Position       int // 0-based rank in the search results
}

// ScoredCandidate pairs a Candidate with its ranking score.
type ScoredCandidate struct {
	Candidate Candidate
	Score     float64
}

// PurchaseHistory reports whether productID was previously purchased and
// the user's average consumption quantity for the atom's item, used by the
// ranking function.
type PurchaseHistory interface {
	HasPurchased(itemName, productID string) bool
	AverageConsumption(itemName string) float64
}

// ErrServiceUnavailable is returned by BindSession when the bound service
// cannot be brought to a live state even after one reinitialization.
type ErrServiceUnavailable struct{ Username string }

func (e *ErrServiceUnavailable) Error() string {
	return "order: external service unavailable for " + e.Username
}

// ErrStoreClosed signals a clean, stable-kind checkout failure.
var ErrStoreClosed = storeClosedError{}

type storeClosedError struct{}

func (storeClosedError) Error() string { return "order: store is closed" }

// ItemPacingDelay is the delay between successive item adds (spec.md
// §4.9 stage 4).
const ItemPacingDelay = 1 * time.Second

// CartVerificationAttempts and CartVerificationSpacing bound the
// cart-non-emptiness check (spec.md §4.9 stage 5).
const (
	CartVerificationAttempts = 3
	CartVerificationSpacing  = 2 * time.Second
)

// ExternalLoginCacheTTL is how long an external-service login check is
// trusted before re-checking (spec.md §4.9 stage 3).
const ExternalLoginCacheTTL = 5 * time.Minute
