package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/breaker"
	"github.com/homestead-systems/assistant-core/internal/extsession"
)

// Address and PaymentMethod are the minimal shapes the checkout stage
// needs to present choices and submit.
type Address struct {
	ID    string
	Label string
}

type PaymentMethod struct {
	ID    string
	Label string
}

// OrderConfirmation is returned by a successful checkout submission.
type OrderConfirmation struct {
	OrderID string
}

// StoreClient is the store-side integration the pipeline drives through a
// user's bound LiveService. A real implementation wraps browser automation
// or a store API behind this seam; the pipeline itself never depends on
// the transport.
type StoreClient interface {
	IsLoggedIn(ctx context.Context, svc extsession.LiveService) bool
	ExternalLogin(ctx context.Context, svc extsession.LiveService) error
	Search(ctx context.Context, svc extsession.LiveService, itemName string) ([]Candidate, error)
	AddToCart(ctx context.Context, svc extsession.LiveService, productID string) error
	CartNonEmpty(ctx context.Context, svc extsession.LiveService) (bool, error)
	FetchAddresses(ctx context.Context, svc extsession.LiveService) ([]Address, error)
	FetchPaymentMethods(ctx context.Context, svc extsession.LiveService) ([]PaymentMethod, error)
	Submit(ctx context.Context, svc extsession.LiveService, addressID, paymentMethodID string) (OrderConfirmation, error)
}

// AddItemResult records the outcome of attempting to add a single Atom.
type AddItemResult struct {
	Atom      Atom
	ProductID string
	Added     bool
	Err       error
}

// Pipeline wires the registry, authentication service, store client, and
// the per-user external-login cache together.
type Pipeline struct {
	registry   *extsession.Registry
	auth       *authsvc.Service
	store      StoreClient
	loginCache breaker.AvailabilityCache
	logger     *slog.Logger
}

// NewPipeline builds a Pipeline. loginCache may be nil, which falls back
// to an in-process TTL cache, matching breaker's own fallback policy.
func NewPipeline(registry *extsession.Registry, auth *authsvc.Service, store StoreClient, loginCache breaker.AvailabilityCache, logger *slog.Logger) *Pipeline {
	if loginCache == nil {
		loginCache = breaker.NewInProcessAvailabilityCache(ExternalLoginCacheTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, auth: auth, store: store, loginCache: loginCache, logger: logger}
}

// BindSession retrieves or creates the per-user service instance (stage
// 2) and reinitializes it once if it is not live before giving up.
func (p *Pipeline) BindSession(username string) (extsession.LiveService, error) {
	svc, err := p.registry.Get(username)
	if err != nil {
		return nil, err
	}
	if svc.IsLive() {
		return svc, nil
	}

	if err := p.registry.Clear(username); err != nil {
		return nil, fmt.Errorf("order: clearing stale session for reinit: %w", err)
	}
	svc, err = p.registry.Get(username)
	if err != nil {
		return nil, err
	}
	if !svc.IsLive() {
		return nil, &ErrServiceUnavailable{Username: username}
	}
	return svc, nil
}

// Authorize requires a valid application session (C7) and an external
// store login, reusing a cached external-login result for
// ExternalLoginCacheTTL before re-checking.
func (p *Pipeline) Authorize(ctx context.Context, accessToken, username string, svc extsession.LiveService) (*authsvc.SessionInfo, error) {
	info, err := p.auth.ValidateSession(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("order: application session invalid: %w", err)
	}

	cacheKey := "extlogin:" + username
	if cached, _ := p.loginCache.IsAvailable(ctx, cacheKey); cached {
		return info, nil
	}

	if p.store.IsLoggedIn(ctx, svc) {
		_ = p.loginCache.MarkAvailable(ctx, cacheKey)
		return info, nil
	}

	if err := p.store.ExternalLogin(ctx, svc); err != nil {
		return nil, fmt.Errorf("order: external login failed: %w", err)
	}
	_ = p.loginCache.MarkAvailable(ctx, cacheKey)
	return info, nil
}

// AddItems runs stage 4: for each atom, search, rank, and try candidates
// in ranked order until one adds successfully, pacing ItemPacingDelay
// between items.
func (p *Pipeline) AddItems(ctx context.Context, svc extsession.LiveService, atoms []Atom, history PurchaseHistory) []AddItemResult {
	results := make([]AddItemResult, 0, len(atoms))

	for i, atom := range atoms {
		results = append(results, p.addOneItem(ctx, svc, atom, history))

		if i < len(atoms)-1 {
			timer := time.NewTimer(ItemPacingDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return results
			case <-timer.C:
			}
		}
	}
	return results
}

func (p *Pipeline) addOneItem(ctx context.Context, svc extsession.LiveService, atom Atom, history PurchaseHistory) AddItemResult {
	candidates, err := p.store.Search(ctx, svc, atom.ItemName)
	if err != nil {
		return AddItemResult{Atom: atom, Err: fmt.Errorf("order: searching %q: %w", atom.ItemName, err)}
	}

	avg := 0.0
	if history != nil {
		avg = history.AverageConsumption(atom.ItemName)
	}
	ranked := RankVariants(atom.ItemName, candidates, history, avg)

	var lastErr error
	for _, sc := range ranked {
		if err := p.store.AddToCart(ctx, svc, sc.Candidate.ProductID); err != nil {
			lastErr = err
			p.logger.Warn("order: add to cart failed, trying next candidate",
				"item", atom.ItemName, "product_id", sc.Candidate.ProductID, "error", err)
			continue
		}
		return AddItemResult{Atom: atom, ProductID: sc.Candidate.ProductID, Added: true}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("order: no available candidates for %q", atom.ItemName)
	}
	return AddItemResult{Atom: atom, Err: lastErr}
}

// VerifyCart runs stage 5: up to CartVerificationAttempts checks spaced
// CartVerificationSpacing apart, reporting failure rather than silently
// ignoring it.
func (p *Pipeline) VerifyCart(ctx context.Context, svc extsession.LiveService) error {
	var lastErr error
	for attempt := 0; attempt < CartVerificationAttempts; attempt++ {
		nonEmpty, err := p.store.CartNonEmpty(ctx, svc)
		if err == nil && nonEmpty {
			return nil
		}
		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("order: cart verification reported empty cart")
		}

		if attempt < CartVerificationAttempts-1 {
			timer := time.NewTimer(CartVerificationSpacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("order: cart verification failed after %d attempts: %w", CartVerificationAttempts, lastErr)
}

// Checkout runs stage 6: fetch addresses/payment methods, and submit with
// the caller's selections.
func (p *Pipeline) Checkout(ctx context.Context, svc extsession.LiveService, selectAddress func([]Address) (string, error), selectPayment func([]PaymentMethod) (string, error)) (OrderConfirmation, error) {
	addresses, err := p.store.FetchAddresses(ctx, svc)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("order: fetching addresses: %w", err)
	}
	addressID, err := selectAddress(addresses)
	if err != nil {
		return OrderConfirmation{}, err
	}

	methods, err := p.store.FetchPaymentMethods(ctx, svc)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("order: fetching payment methods: %w", err)
	}
	paymentID, err := selectPayment(methods)
	if err != nil {
		return OrderConfirmation{}, err
	}

	confirmation, err := p.store.Submit(ctx, svc, addressID, paymentID)
	if err != nil {
		return OrderConfirmation{}, err
	}
	return confirmation, nil
}
