package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/extsession"
	"github.com/homestead-systems/assistant-core/internal/order"
)

func TestPreprocess_FallsBackToRawParseWhenNormalizerFails(t *testing.T) {
	failing := func(ctx context.Context, rawItems []string) ([]order.Atom, error) {
		return nil, errors.New("ai collaborator unreachable")
	}

	atoms := order.Preprocess(context.Background(), []string{" milk ", "eggs"}, failing, nil)

	require.Len(t, atoms, 2)
	assert.Equal(t, "milk", atoms[0].ItemName)
	assert.Equal(t, 1.0, atoms[0].Quantity)
	assert.Equal(t, "each", atoms[0].Unit)
}

func TestPreprocess_DedupesByNameAndUnitSummingQuantity(t *testing.T) {
	normalize := func(ctx context.Context, rawItems []string) ([]order.Atom, error) {
		return []order.Atom{
			{ItemName: "Milk", Quantity: 1, Unit: "gallon"},
			{ItemName: "milk", Quantity: 2, Unit: "gallon"},
		}, nil
	}

	atoms := order.Preprocess(context.Background(), []string{"milk", "milk"}, normalize, nil)

	require.Len(t, atoms, 1)
	assert.Equal(t, 3.0, atoms[0].Quantity)
}

type fakeHistory struct {
	purchased map[string]bool
	avg       float64
}

func (h fakeHistory) HasPurchased(itemName, productID string) bool {
	return h.purchased[productID]
}

func (h fakeHistory) AverageConsumption(itemName string) float64 { return h.avg }

func TestRankVariants_FiltersUnavailableAndPrefersPurchaseHistory(t *testing.T) {
	candidates := []order.Candidate{
		{ProductID: "a", Name: "Whole Milk", PackSize: 1, Price: 3.0, Available: true, Position: 0},
		{ProductID: "b", Name: "Whole Milk", PackSize: 1, Price: 3.0, Available: true, Position: 1},
		{ProductID: "c", Name: "Whole Milk", PackSize: 1, Price: 1.0, Available: false, Position: 2},
	}
	history := fakeHistory{purchased: map[string]bool{"b": true}, avg: 1}

	scored := order.RankVariants("milk", candidates, history, 1)

	require.Len(t, scored, 2)
	assert.Equal(t, "b", scored[0].Candidate.ProductID)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestRankVariants_ReturnsNilWhenNoneAvailable(t *testing.T) {
	candidates := []order.Candidate{{ProductID: "a", Available: false}}
	scored := order.RankVariants("milk", candidates, nil, 0)
	assert.Nil(t, scored)
}

type fakeLiveService struct{ live bool }

func (f *fakeLiveService) IsLive() bool { return f.live }
func (f *fakeLiveService) Close() error { return nil }

type fakeStore struct {
	loggedIn       bool
	searchResults  []order.Candidate
	addShouldFail  map[string]bool
	cartNonEmpty   []bool
	cartCallCount  int
	submitOrder    order.OrderConfirmation
}

func (s *fakeStore) IsLoggedIn(ctx context.Context, svc extsession.LiveService) bool { return s.loggedIn }

func (s *fakeStore) ExternalLogin(ctx context.Context, svc extsession.LiveService) error {
	s.loggedIn = true
	return nil
}

func (s *fakeStore) Search(ctx context.Context, svc extsession.LiveService, itemName string) ([]order.Candidate, error) {
	return s.searchResults, nil
}

func (s *fakeStore) AddToCart(ctx context.Context, svc extsession.LiveService, productID string) error {
	if s.addShouldFail[productID] {
		return errors.New("store rejected item")
	}
	return nil
}

func (s *fakeStore) CartNonEmpty(ctx context.Context, svc extsession.LiveService) (bool, error) {
	idx := s.cartCallCount
	s.cartCallCount++
	if idx >= len(s.cartNonEmpty) {
		return s.cartNonEmpty[len(s.cartNonEmpty)-1], nil
	}
	return s.cartNonEmpty[idx], nil
}

func (s *fakeStore) FetchAddresses(ctx context.Context, svc extsession.LiveService) ([]order.Address, error) {
	return []order.Address{{ID: "addr-1", Label: "Home"}}, nil
}

func (s *fakeStore) FetchPaymentMethods(ctx context.Context, svc extsession.LiveService) ([]order.PaymentMethod, error) {
	return []order.PaymentMethod{{ID: "card-1", Label: "Visa"}}, nil
}

func (s *fakeStore) Submit(ctx context.Context, svc extsession.LiveService, addressID, paymentMethodID string) (order.OrderConfirmation, error) {
	return s.submitOrder, nil
}

func TestPipeline_AddItems_FallsThroughToNextRankedCandidateOnFailure(t *testing.T) {
	store := &fakeStore{
		searchResults: []order.Candidate{
			{ProductID: "best", Name: "milk", Available: true, Position: 0},
			{ProductID: "fallback", Name: "milk", Available: true, Position: 1},
		},
		addShouldFail: map[string]bool{"best": true},
	}
	p := order.NewPipeline(nil, nil, store, nil, nil)
	svc := &fakeLiveService{live: true}

	results := p.AddItems(context.Background(), svc, []order.Atom{{ItemName: "milk", Quantity: 1, Unit: "each"}}, nil)

	require.Len(t, results, 1)
	assert.True(t, results[0].Added)
	assert.Equal(t, "fallback", results[0].ProductID)
}

func TestPipeline_AddItems_ReportsErrorWhenAllCandidatesFail(t *testing.T) {
	store := &fakeStore{
		searchResults: []order.Candidate{{ProductID: "only", Name: "milk", Available: true}},
		addShouldFail: map[string]bool{"only": true},
	}
	p := order.NewPipeline(nil, nil, store, nil, nil)
	svc := &fakeLiveService{live: true}

	results := p.AddItems(context.Background(), svc, []order.Atom{{ItemName: "milk", Quantity: 1, Unit: "each"}}, nil)

	require.Len(t, results, 1)
	assert.False(t, results[0].Added)
	assert.Error(t, results[0].Err)
}

func TestPipeline_VerifyCart_SucceedsOnLaterAttempt(t *testing.T) {
	store := &fakeStore{cartNonEmpty: []bool{false, false, true}}
	p := order.NewPipeline(nil, nil, store, nil, nil)
	svc := &fakeLiveService{live: true}

	start := time.Now()
	err := p.VerifyCart(context.Background(), svc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 2*order.CartVerificationSpacing-50*time.Millisecond)
}

func TestPipeline_VerifyCart_FailsAfterAllAttemptsExhausted(t *testing.T) {
	store := &fakeStore{cartNonEmpty: []bool{false, false, false}}
	p := order.NewPipeline(nil, nil, store, nil, nil)
	svc := &fakeLiveService{live: true}

	err := p.VerifyCart(context.Background(), svc)
	assert.Error(t, err)
}

func TestPipeline_Checkout_SubmitsWithSelectedAddressAndPayment(t *testing.T) {
	store := &fakeStore{submitOrder: order.OrderConfirmation{OrderID: "order-123"}}
	p := order.NewPipeline(nil, nil, store, nil, nil)
	svc := &fakeLiveService{live: true}

	confirmation, err := p.Checkout(context.Background(), svc,
		func(addrs []order.Address) (string, error) { return addrs[0].ID, nil },
		func(methods []order.PaymentMethod) (string, error) { return methods[0].ID, nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "order-123", confirmation.OrderID)
}
