package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/discovery"
	"github.com/example/marketplace/pkg/models"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultOrderAddr = "localhost:50052"

// ClientManager manages the gateway's connection to the order service
type ClientManager struct {
	config    *config.Config
	discovery *discovery.ServiceDiscovery
	logger    *zap.Logger

	orderClient *OrderClient
	orderConn   *grpc.ClientConn
}

func NewClientManager(cfg *config.Config, logger *zap.Logger, disc *discovery.ServiceDiscovery) *ClientManager {
	return &ClientManager{
		config:    cfg,
		discovery: disc,
		logger:    logger,
	}
}

// Connect resolves the order service through etcd, falling back to
// gateway.order_addr, and opens a client connection.
func (m *ClientManager) Connect() error {
	target := m.config.Gateway.OrderAddr
	if target == "" {
		target = defaultOrderAddr
	}

	if m.discovery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		addr, err := m.discovery.Resolve(ctx, m.config.Gateway.OrderService)
		if err == nil {
			target = addr
			m.logger.Info("Discovered order service", zap.String("address", target))
		} else {
			m.logger.Info("Using configured address for order service",
				zap.String("address", target),
				zap.Error(err))
		}
	}

	m.logger.Info("Connecting to order service", zap.String("target", target))

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to order service: %w", err)
	}

	m.orderConn = conn
	m.orderClient = NewOrderClient(conn, m.config.Gateway.RPCTimeout)
	return nil
}

func (m *ClientManager) OrderClient() *OrderClient {
	return m.orderClient
}

func (m *ClientManager) Close() error {
	if m.orderConn != nil {
		if err := m.orderConn.Close(); err != nil {
			return fmt.Errorf("order connection close error: %w", err)
		}
	}
	return nil
}

// OrderClient is the typed client for OrderService. Errors raised by the
// server come back as the matching models sentinel.
type OrderClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewOrderClient(conn grpc.ClientConnInterface, timeout time.Duration) *OrderClient {
	return &OrderClient{conn: conn, timeout: timeout}
}

func (c *OrderClient) PlaceOrder(ctx context.Context, actor models.Actor, req PlaceOrderRequest) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "PlaceOrder", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "GetOrder", GetOrderRequest{OrderID: orderID}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) ListOrders(ctx context.Context, actor models.Actor, req ListOrdersRequest) (*ListOrdersResponse, error) {
	var resp ListOrdersResponse
	if err := c.invoke(ctx, actor, "ListOrders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *OrderClient) UpdateStatus(ctx context.Context, actor models.Actor, orderID string, to models.OrderStatus) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "UpdateStatus", UpdateStatusRequest{OrderID: orderID, Status: to}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) CancelOrder(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "CancelOrder", CancelOrderRequest{OrderID: orderID, Reason: reason}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) MarkReceived(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "MarkReceived", GetOrderRequest{OrderID: orderID}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) RecordPayment(ctx context.Context, actor models.Actor, req RecordPaymentRequest) (*models.Order, error) {
	var o models.Order
	if err := c.invoke(ctx, actor, "RecordPayment", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *OrderClient) OrderHistory(ctx context.Context, actor models.Actor, orderID string, limit int) ([]models.AuditEntry, error) {
	var resp OrderHistoryResponse
	if err := c.invoke(ctx, actor, "OrderHistory", OrderHistoryRequest{OrderID: orderID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *OrderClient) invoke(ctx context.Context, actor models.Actor, method string, req, resp interface{}) error {
	in, err := encode(req)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetadataUserID, actor.UserID,
		MetadataUserRole, string(actor.Role))

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fromStatus(err)
	}
	return decode(out, resp)
}
