package shipments

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/ledger"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/payments"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

type okGateway struct {
	refunds int
}

func (g *okGateway) Capture(_ context.Context, req payments.CaptureRequest) (payments.Result, error) {
	return payments.Result{Reference: "cap-" + req.PaymentRef}, nil
}

func (g *okGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.Result, error) {
	g.refunds++
	return payments.Result{Reference: "ref-" + req.IdempotencyKey}, nil
}

type recordingNotifier struct {
	events []notifications.Event
}

func (n *recordingNotifier) Enqueue(_ context.Context, tx *gorm.DB, _ enums.NotificationChannel, event notifications.Event) error {
	if tx == nil {
		return errors.New("enqueue outside a transaction")
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	conn      *gorm.DB
	now       time.Time
	purchases *purchases.Service
	svc       *Service
	gateway   *okGateway
	notifier  *recordingNotifier
	ledger    ledger.Service
	buyer     uuid.UUID
	seller    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		conn:     conn,
		now:      time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		gateway:  &okGateway{},
		notifier: &recordingNotifier{},
		buyer:    uuid.New(),
		seller:   uuid.New(),
	}
	clock := func() time.Time { return f.now }
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo := NewRepository(conn)

	var err error
	f.ledger, err = ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	f.purchases, err = purchases.NewService(purchases.ServiceParams{
		Repo:      purchases.NewRepository(conn),
		Tx:        db.Wrap(conn),
		Ledger:    f.ledger,
		Gateway:   f.gateway,
		Shipments: NewHooks(repo),
		Notifier:  f.notifier,
		Logger:    logg,
		Clock:     clock,
	})
	require.NoError(t, err)
	f.svc, err = NewService(ServiceParams{
		Repo:      repo,
		Tx:        db.Wrap(conn),
		Purchases: f.purchases,
		Notifier:  f.notifier,
		Logger:    logg,
		Clock:     clock,
	})
	require.NoError(t, err)
	return f
}

// paidShipment creates a purchase, confirms its payment and returns the
// shipment opened for it.
func (f *fixture) paidShipment(t *testing.T, method enums.DeliveryMethod) *models.Shipment {
	t.Helper()
	product := models.Product{ID: uuid.New(), SellerID: f.seller, Title: "Road bike", PriceCents: 30000, Status: enums.ProductStatusAvailable}
	require.NoError(t, f.conn.Create(&product).Error)
	purchase := models.Purchase{
		ID: uuid.New(), BuyerID: f.buyer, SellerID: f.seller, ProductID: product.ID,
		Status: enums.PurchaseStatusPending, FinalPriceCents: 30000, Currency: "EUR",
	}
	require.NoError(t, f.conn.Create(&purchase).Error)

	_, err := f.purchases.ConfirmPayment(context.Background(), actors.User(f.buyer), purchases.ConfirmPaymentInput{
		PurchaseID:         purchase.ID,
		PaymentRef:         "sq-" + purchase.ID.String()[:8],
		DeliveryMethod:     method,
		Address:            models.AddressSnapshot{Name: "Luis", Street: "Rua Augusta 10", City: "Lisboa", Postcode: "1100-053", Country: "PT"},
		ShippingPriceCents: 700,
	})
	require.NoError(t, err)

	sh, err := NewRepository(f.conn).FindByPurchaseID(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusPendingShipment, sh.Status)
	require.Equal(t, int64(700), sh.PriceCents)
	return sh
}

func (f *fixture) ship(t *testing.T, sh *models.Shipment) *models.Shipment {
	t.Helper()
	days := 3
	out, err := f.svc.MarkShipped(context.Background(), actors.User(f.seller), MarkShippedInput{
		ShipmentID: sh.ID, Carrier: "CTT", TrackingNumber: "RR123456789PT",
		TrackingURL: "https://track.example/RR123456789PT", EstimatedDays: &days,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) purchase(t *testing.T, id uuid.UUID) models.Purchase {
	t.Helper()
	var p models.Purchase
	require.NoError(t, f.conn.Where("id = ?", id).Take(&p).Error)
	return p
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, pkgerrors.CodeOf(err), "unexpected error: %v", err)
}

func TestMarkShippedPropagatesToPurchase(t *testing.T) {
	f := newFixture(t)
	sh := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))

	require.Equal(t, enums.ShipmentStatusShipped, sh.Status)
	require.Equal(t, "CTT", *sh.Carrier)
	require.Equal(t, f.now.AddDate(0, 0, 3), *sh.EstimatedDeliveryAt)
	require.Equal(t, enums.PurchaseStatusShipped, f.purchase(t, sh.PurchaseID).Status)

	_, err := f.svc.MarkShipped(context.Background(), actors.User(f.seller), MarkShippedInput{
		ShipmentID: sh.ID, Carrier: "CTT", TrackingNumber: "again",
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestMarkShippedRequiresSeller(t *testing.T) {
	f := newFixture(t)
	sh := f.paidShipment(t, enums.DeliveryMethodParcel)

	_, err := f.svc.MarkShipped(context.Background(), actors.User(f.buyer), MarkShippedInput{
		ShipmentID: sh.ID, Carrier: "DHL", TrackingNumber: "JD0001",
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.MarkShipped(context.Background(), actors.User(f.seller), MarkShippedInput{ShipmentID: sh.ID})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestConfirmDeliveryCompletesPurchaseOnce(t *testing.T) {
	f := newFixture(t)
	sh := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	ctx := context.Background()
	rating := 5

	delivered, err := f.svc.ConfirmDelivery(ctx, actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: sh.ID, Rating: &rating})
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusDelivered, delivered.Status)
	require.Equal(t, "user:"+f.buyer.String(), *delivered.ConfirmedBy)

	p := f.purchase(t, sh.PurchaseID)
	require.Equal(t, enums.PurchaseStatusCompleted, p.Status)
	require.NotNil(t, p.DeliveredAt)
	require.NotNil(t, p.CompletedAt)

	again, err := f.svc.ConfirmDelivery(ctx, actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: sh.ID})
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusDelivered, again.Status)
	require.Equal(t, 5, *again.BuyerRating)

	sales, err := f.purchases.CompletedSales(ctx, f.seller)
	require.NoError(t, err)
	require.Equal(t, int64(1), sales)

	entries, err := f.ledger.List(ctx, sh.PurchaseID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var product models.Product
	require.NoError(t, f.conn.Where("id = ?", p.ProductID).Take(&product).Error)
	require.Equal(t, enums.ProductStatusSold, product.Status)

	delivers := 0
	for _, typ := range f.notifier.types() {
		if typ == enums.EventShipmentDelivered {
			delivers++
		}
	}
	require.Equal(t, 1, delivers)
}

func TestConfirmDeliveryValidatesRating(t *testing.T) {
	f := newFixture(t)
	sh := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	bad := 6

	_, err := f.svc.ConfirmDelivery(context.Background(), actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: sh.ID, Rating: &bad})
	requireCode(t, err, pkgerrors.CodeValidation)
	require.Equal(t, enums.PurchaseStatusShipped, f.purchase(t, sh.PurchaseID).Status)
}

func TestConfirmDeliveryRequiresInFlight(t *testing.T) {
	f := newFixture(t)
	sh := f.paidShipment(t, enums.DeliveryMethodParcel)

	_, err := f.svc.ConfirmDelivery(context.Background(), actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: sh.ID})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestConfirmInPersonDeliveryFromPending(t *testing.T) {
	f := newFixture(t)
	sh := f.paidShipment(t, enums.DeliveryMethodInPerson)

	out, err := f.svc.ConfirmInPersonDelivery(context.Background(), actors.User(f.buyer), sh.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusDelivered, out.Status)
	require.Nil(t, out.Carrier)
	settled := f.purchase(t, sh.PurchaseID)
	require.Equal(t, enums.PurchaseStatusCompleted, settled.Status)
	require.Nil(t, settled.ShippedAt, "hand-over must not record a shipping date")
	require.NotNil(t, settled.DeliveredAt)

	parcel := f.paidShipment(t, enums.DeliveryMethodParcel)
	_, err = f.svc.ConfirmInPersonDelivery(context.Background(), actors.User(f.buyer), parcel.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestOpenDisputeFreezesFunds(t *testing.T) {
	f := newFixture(t)
	sh := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	ctx := context.Background()

	_, err := f.svc.MarkInTransit(ctx, actors.User(f.seller), sh.ID)
	require.NoError(t, err)

	out, err := f.svc.OpenDispute(ctx, actors.User(f.buyer), sh.ID, "box arrived empty")
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusIncident, out.Status)
	require.Equal(t, enums.PurchaseStatusDisputed, f.purchase(t, sh.PurchaseID).Status)
	require.Zero(t, f.gateway.refunds)

	_, err = f.svc.OpenDispute(ctx, actors.User(f.buyer), sh.ID, "again")
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = f.svc.ConfirmDelivery(ctx, actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: sh.ID})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCancelPurchaseCancelsShipment(t *testing.T) {
	f := newFixture(t)
	sh := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))

	_, err := f.purchases.Cancel(context.Background(), actors.User(f.buyer), sh.PurchaseID)
	require.NoError(t, err)

	stored, err := f.svc.Get(context.Background(), actors.User(f.seller), sh.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	require.Equal(t, 1, f.gateway.refunds)
}

func TestGetHidesShipmentFromStrangers(t *testing.T) {
	f := newFixture(t)
	sh := f.paidShipment(t, enums.DeliveryMethodParcel)

	_, err := f.svc.Get(context.Background(), actors.User(uuid.New()), sh.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Get(context.Background(), actors.User(f.buyer), uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestAutoConfirmSweepHonoursGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	f.now = f.now.Add(5 * 24 * time.Hour)
	recent := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	disputed := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	_, err := f.svc.OpenDispute(ctx, actors.User(f.buyer), disputed.ID, "damaged")
	require.NoError(t, err)

	// eight days after the first shipment, three after the others
	f.now = f.now.Add(3 * 24 * time.Hour)
	result, err := f.svc.AutoConfirmSweep(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Scanned: 1, Confirmed: 1}, result)

	confirmed, err := f.svc.Get(ctx, actors.System(), old.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusDelivered, confirmed.Status)
	require.Equal(t, "system", *confirmed.ConfirmedBy)
	require.Equal(t, enums.PurchaseStatusCompleted, f.purchase(t, old.PurchaseID).Status)

	untouched, err := f.svc.Get(ctx, actors.System(), recent.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusShipped, untouched.Status)

	result, err = f.svc.AutoConfirmSweep(ctx, 50)
	require.NoError(t, err)
	require.Zero(t, result.Scanned)
}

// buyerFirstRepo lets the buyer confirm delivery after the sweep listed the
// shipment but before the sweep applies its own confirmation.
type buyerFirstRepo struct {
	Repository
	beforeApply func()
}

func (r *buyerFirstRepo) ListShippedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error) {
	rows, err := r.Repository.ListShippedBefore(ctx, cutoff, limit)
	if err == nil && r.beforeApply != nil {
		r.beforeApply()
	}
	return rows, err
}

func TestAutoConfirmSweepLosesRaceToBuyerConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shipped := f.ship(t, f.paidShipment(t, enums.DeliveryMethodParcel))
	f.now = f.now.Add(8 * 24 * time.Hour)

	rating := 5
	racing := &buyerFirstRepo{Repository: NewRepository(f.conn)}
	racing.beforeApply = func() {
		_, err := f.svc.ConfirmDelivery(ctx, actors.User(f.buyer), ConfirmDeliveryInput{ShipmentID: shipped.ID, Rating: &rating})
		require.NoError(t, err)
	}
	sweeper, err := NewService(ServiceParams{
		Repo:      racing,
		Tx:        db.Wrap(f.conn),
		Purchases: f.purchases,
		Notifier:  f.notifier,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)

	result, err := sweeper.AutoConfirmSweep(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Scanned: 1, Skipped: 1}, result)

	got, err := f.svc.Get(ctx, actors.System(), shipped.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ShipmentStatusDelivered, got.Status)
	require.Equal(t, actors.User(f.buyer).Ref(), *got.ConfirmedBy)
	require.Equal(t, 5, *got.BuyerRating)
	require.Equal(t, enums.PurchaseStatusCompleted, f.purchase(t, shipped.PurchaseID).Status)

	sales, err := f.purchases.CompletedSales(ctx, f.seller)
	require.NoError(t, err)
	require.Equal(t, int64(1), sales)

	entries, err := f.ledger.List(ctx, shipped.PurchaseID)
	require.NoError(t, err)
	releases := 0
	for _, e := range entries {
		if e.Kind == enums.LedgerEntryRelease {
			releases++
		}
	}
	require.Equal(t, 1, releases)

	delivered := 0
	for _, typ := range f.notifier.types() {
		if typ == enums.EventShipmentDelivered {
			delivered++
		}
	}
	require.Equal(t, 1, delivered)
}
