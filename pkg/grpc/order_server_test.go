package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/repository"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	buyer = models.Actor{UserID: "buyer-1", Role: models.RoleBuyer}
	owner = models.Actor{UserID: "seller-1", Role: models.RoleSeller}
	admin = models.Actor{UserID: "payments", Role: models.RoleAdmin}
)

type rpcEnv struct {
	client *OrderClient
	conn   *grpc.ClientConn
	carts  *cart.Store
}

func newRPCEnv(t *testing.T) *rpcEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	require.NoError(t, repository.MigrateCatalogs(db))

	seller := owner.UserID
	require.NoError(t, db.Table(models.CatalogGeneral.Table()).Create(&models.Product{
		ID: "A", SellerID: &seller, Name: "Rice cooker", Price: decimal.NewFromInt(500),
	}).Error)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	resolver := catalog.NewResolver(repository.CatalogLookups(db), time.Second, log)
	carts := cart.NewStore(repository.NewRedisRepositoryWithClient(rdb, nil), cart.Options{Resolver: resolver, Logger: log})
	orders := repository.NewOrderRepository(db)
	handler := NewOrderHandler(
		order.NewAssembler(orders, carts, resolver, fee.NewCalculator(nil), order.AssemblerOptions{Logger: log}),
		order.NewStateMachine(orders, order.StateMachineOptions{RequirePaidForPrepaid: true, Logger: log}),
		order.NewQuery(orders),
		decimal.NewFromInt(50),
		log,
	)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(handler, health.NewServer(), log)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &rpcEnv{client: NewOrderClient(conn, 5*time.Second), conn: conn, carts: carts}
}

func TestOrderService_CheckoutOverRPC(t *testing.T) {
	env := newRPCEnv(t)
	ctx := context.Background()

	_, err := env.carts.AddItem(ctx, buyer.UserID, cart.Item{
		Ref: models.ProductRef{ID: "A"}, UnitPrice: decimal.NewFromInt(500),
	}, 2)
	require.NoError(t, err)

	o, err := env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{
		FromCart:        true,
		PaymentMethod:   models.PaymentMethodCOD,
		DeliveryAddress: models.Address{RecipientName: "Ana", Line1: "1 Luna St", City: "Cebu"},
	})
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(1050)), "total %s", o.Total)
	assert.Equal(t, owner.UserID, o.SellerID)
	assert.Equal(t, "Cebu", o.DeliveryAddress.City)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)

	got, err := env.client.GetOrder(ctx, owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)

	history, err := env.client.OrderHistory(ctx, buyer, o.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = env.client.OrderHistory(ctx, models.Actor{UserID: "stranger"}, o.ID, 10)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	list, err := env.client.ListOrders(ctx, buyer, ListOrdersRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, 20, list.PageSize)

	confirmed, err := env.client.UpdateStatus(ctx, owner, o.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)

	cancelled, err := env.client.CancelOrder(ctx, buyer, o.ID, "found it cheaper")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestOrderService_ErrorsKeepTheirSentinel(t *testing.T) {
	env := newRPCEnv(t)
	ctx := context.Background()

	_, err := env.client.PlaceOrder(ctx, models.Actor{}, PlaceOrderRequest{
		Items:         []OrderItemInput{{ProductID: "A", UnitPrice: decimal.NewFromInt(1), Quantity: 1}},
		PaymentMethod: models.PaymentMethodCOD,
	})
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)

	_, err = env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{PaymentMethod: models.PaymentMethodCOD})
	assert.ErrorIs(t, err, models.ErrEmptyOrder)

	_, err = env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{
		Items:         []OrderItemInput{{ProductID: "ghost", UnitPrice: decimal.NewFromInt(1), Quantity: 1}},
		PaymentMethod: models.PaymentMethodCOD,
	})
	assert.ErrorIs(t, err, models.ErrSellerUnresolved)

	_, err = env.client.GetOrder(ctx, buyer, "missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	o, err := env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{
		Items:         []OrderItemInput{{ProductID: "A", UnitPrice: decimal.NewFromInt(500), Quantity: 1}},
		PaymentMethod: models.PaymentMethodGCash,
	})
	require.NoError(t, err)

	_, err = env.client.UpdateStatus(ctx, owner, o.ID, models.OrderStatusConfirmed)
	assert.ErrorIs(t, err, models.ErrIllegalStateTransition)

	_, err = env.client.RecordPayment(ctx, buyer, RecordPaymentRequest{OrderID: o.ID, Status: models.PaymentStatusPaid})
	assert.ErrorIs(t, err, models.ErrForbidden)

	paid, err := env.client.RecordPayment(ctx, admin, RecordPaymentRequest{OrderID: o.ID, Reference: "gc-1", Status: models.PaymentStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)

	_, err = env.client.UpdateStatus(ctx, owner, o.ID, models.OrderStatusConfirmed)
	assert.NoError(t, err)
}

func TestOrderService_BuyerCannotChoosePriceFeeOrPayment(t *testing.T) {
	env := newRPCEnv(t)
	ctx := context.Background()
	zero := decimal.Zero

	o, err := env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{
		Items:            []OrderItemInput{{ProductID: "A", UnitPrice: decimal.RequireFromString("0.01"), Quantity: 2}},
		PaymentMethod:    models.PaymentMethodCard,
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentReference: "made-up",
		DeliveryFee:      &zero,
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].UnitPriceSnapshot.Equal(decimal.NewFromInt(500)), o.Items[0].UnitPriceSnapshot.String())
	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(1000)), o.Subtotal.String())
	assert.True(t, o.DeliveryFee.Equal(decimal.NewFromInt(50)), o.DeliveryFee.String())
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.DeliveryFee).Add(o.PaymentFee)))
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Nil(t, o.PaymentReference)

	// prepaid and unpaid, so the seller cannot move it forward
	_, err = env.client.UpdateStatus(ctx, owner, o.ID, models.OrderStatusConfirmed)
	assert.ErrorIs(t, err, models.ErrIllegalStateTransition)

	_, err = env.client.PlaceOrder(ctx, buyer, PlaceOrderRequest{
		Items:         []OrderItemInput{{ProductID: "A", Quantity: 1, SellerID: "seller-9"}},
		PaymentMethod: models.PaymentMethodCOD,
	})
	assert.ErrorIs(t, err, models.ErrSellerUnresolved)
}

func TestOrderService_AdminMayPlaceSettledOrder(t *testing.T) {
	env := newRPCEnv(t)
	ctx := context.Background()
	zero := decimal.Zero
	items := []OrderItemInput{{ProductID: "A", Quantity: 1}}

	_, err := env.client.PlaceOrder(ctx, admin, PlaceOrderRequest{
		Items:         items,
		PaymentMethod: models.PaymentMethodGCash,
		PaymentStatus: models.PaymentStatusPaid,
	})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	o, err := env.client.PlaceOrder(ctx, admin, PlaceOrderRequest{
		Items:            items,
		PaymentMethod:    models.PaymentMethodGCash,
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentReference: "gc-9",
		DeliveryFee:      &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	require.NotNil(t, o.PaymentReference)
	assert.Equal(t, "gc-9", *o.PaymentReference)
	assert.True(t, o.DeliveryFee.IsZero())
}

func TestOrderService_Health(t *testing.T) {
	env := newRPCEnv(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestStatusRoundTrip(t *testing.T) {
	for _, m := range errorTable {
		t.Run(m.reason, func(t *testing.T) {
			err := toStatus(fmt.Errorf("placing order: %w", m.err))
			assert.Equal(t, m.code, status.Code(err))

			back := fromStatus(err)
			assert.ErrorIs(t, back, m.err)
			assert.Equal(t, m.reason, Reason(back))
		})
	}

	plain := toStatus(errors.New("boom"))
	assert.Equal(t, codes.Internal, status.Code(plain))
	assert.Equal(t, "INTERNAL", Reason(fromStatus(plain)))
}
