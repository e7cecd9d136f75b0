package order

import (
	"context"
	"log/slog"

	"github.com/homestead-systems/assistant-core/internal/extsession"
)

// DevStoreClient logs every call instead of driving a real storefront,
// mirroring the teacher's notify.DevMailer dev-mode stand-in. The
// third-party browser-automation library a production StoreClient would
// wrap is out of scope; this satisfies the StoreClient seam so the
// pipeline can be exercised end to end in development.
type DevStoreClient struct {
	Logger *slog.Logger
}

func NewDevStoreClient(logger *slog.Logger) *DevStoreClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevStoreClient{Logger: logger}
}

func (d *DevStoreClient) IsLoggedIn(ctx context.Context, svc extsession.LiveService) bool {
	return svc.IsLive()
}

func (d *DevStoreClient) ExternalLogin(ctx context.Context, svc extsession.LiveService) error {
	d.Logger.Info("order_dev_store: external_login")
	return nil
}

func (d *DevStoreClient) Search(ctx context.Context, svc extsession.LiveService, itemName string) ([]Candidate, error) {
	d.Logger.Info("order_dev_store: search", "item", itemName)
	return []Candidate{{ProductID: "dev-" + itemName, Name: itemName, PackSize: 1, Price: 1.0, Available: true, Position: 0}}, nil
}

func (d *DevStoreClient) AddToCart(ctx context.Context, svc extsession.LiveService, productID string) error {
	d.Logger.Info("order_dev_store: add_to_cart", "product_id", productID)
	return nil
}

func (d *DevStoreClient) CartNonEmpty(ctx context.Context, svc extsession.LiveService) (bool, error) {
	return true, nil
}

func (d *DevStoreClient) FetchAddresses(ctx context.Context, svc extsession.LiveService) ([]Address, error) {
	return []Address{{ID: "dev-address", Label: "Dev Address"}}, nil
}

func (d *DevStoreClient) FetchPaymentMethods(ctx context.Context, svc extsession.LiveService) ([]PaymentMethod, error) {
	return []PaymentMethod{{ID: "dev-payment", Label: "Dev Payment Method"}}, nil
}

func (d *DevStoreClient) Submit(ctx context.Context, svc extsession.LiveService, addressID, paymentMethodID string) (OrderConfirmation, error) {
	d.Logger.Info("order_dev_store: submit", "address_id", addressID, "payment_method_id", paymentMethodID)
	return OrderConfirmation{OrderID: "dev-order-id"}, nil
}

// devLiveService is the LiveService instance DevStoreClient's factory hands
// the registry: always live, nothing to close.
type devLiveService struct{}

func (devLiveService) IsLive() bool { return true }
func (devLiveService) Close() error { return nil }

// NewDevSessionFactory builds an extsession.Factory that always succeeds
// with a live dev session, for local development without a real
// storefront integration configured.
func NewDevSessionFactory() extsession.Factory {
	return func(authStatePath string) (extsession.LiveService, error) {
		return devLiveService{}, nil
	}
}
