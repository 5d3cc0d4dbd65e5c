package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"
)

const (
	ServiceName = "marketplace.order.v1.OrderService"

	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"
)

// OrderService is the server API. Every method takes and returns a Struct
// holding the JSON form of the message types in messages.go.
type OrderService interface {
	PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	UpdateStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	MarkReceived(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	RecordPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	OrderHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderService)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", OrderService.PlaceOrder),
		unary("GetOrder", OrderService.GetOrder),
		unary("ListOrders", OrderService.ListOrders),
		unary("UpdateStatus", OrderService.UpdateStatus),
		unary("CancelOrder", OrderService.CancelOrder),
		unary("MarkReceived", OrderService.MarkReceived),
		unary("RecordPayment", OrderService.RecordPayment),
		unary("OrderHistory", OrderService.OrderHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/order/v1/order.proto",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderService) {
	s.RegisterService(&OrderServiceDesc, srv)
}

func unary(name string, call func(OrderService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OrderService), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// OrderHandler implements OrderService on top of the order package.
type OrderHandler struct {
	assembler   *order.Assembler
	machine     *order.StateMachine
	query       *order.Query
	deliveryFee decimal.Decimal
	logger      *zap.Logger
}

func NewOrderHandler(assembler *order.Assembler, machine *order.StateMachine, query *order.Query, deliveryFee decimal.Decimal, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{
		assembler:   assembler,
		machine:     machine,
		query:       query,
		deliveryFee: deliveryFee,
		logger:      logger,
	}
}

func (h *OrderHandler) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PlaceOrderRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	actor := actorFromContext(ctx)
	if !actor.Authenticated() {
		return nil, toStatus(models.ErrAuthenticationRequired)
	}

	// Only an admin may override the configured delivery fee or place an
	// order that is already settled.
	deliveryFee := h.deliveryFee
	var (
		paymentStatus    models.PaymentStatus
		paymentReference string
	)
	if actor.IsAdmin() {
		if req.DeliveryFee != nil {
			deliveryFee = *req.DeliveryFee
		}
		paymentStatus, paymentReference = req.PaymentStatus, req.PaymentReference
	} else if req.DeliveryFee != nil || req.PaymentStatus != "" || req.PaymentReference != "" {
		h.logger.Warn("Ignoring caller-supplied delivery fee and payment status",
			zap.String("buyer_id", actor.UserID),
			zap.String("role", string(actor.Role)))
	}

	var (
		o   *models.Order
		err error
	)
	if req.FromCart {
		o, err = h.assembler.PlaceFromCart(ctx, order.CartOrderRequest{
			BuyerID:          actor.UserID,
			ProductIDs:       req.ProductIDs,
			DeliveryAddress:  req.DeliveryAddress,
			PaymentMethod:    req.PaymentMethod,
			PaymentStatus:    paymentStatus,
			PaymentReference: paymentReference,
			DeliveryFee:      deliveryFee,
			Notes:            req.Notes,
		})
	} else {
		items := make([]models.CartLine, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, it.cartLine())
		}
		o, err = h.assembler.PlaceOrder(ctx, order.PlaceOrderRequest{
			BuyerID:          actor.UserID,
			Items:            items,
			DeliveryAddress:  req.DeliveryAddress,
			PaymentMethod:    req.PaymentMethod,
			PaymentStatus:    paymentStatus,
			PaymentReference: paymentReference,
			DeliveryFee:      deliveryFee,
			Notes:            req.Notes,
		})
	}
	if err != nil {
		h.logger.Warn("Place order failed", zap.String("buyer_id", actor.UserID), zap.Error(err))
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

func (h *OrderHandler) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetOrderRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	o, err := h.query.Get(ctx, actorFromContext(ctx), req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

func (h *OrderHandler) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListOrdersRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	filter := models.OrderFilter{
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		Status:   req.Status,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	orders, total, err := h.query.List(ctx, actorFromContext(ctx), filter)
	if err != nil {
		return nil, toStatus(err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	page, size := order.PageBounds(req.Page, req.PageSize)
	return encodeResponse(ListOrdersResponse{
		Orders:   orders,
		Total:    total,
		Page:     page,
		PageSize: size,
	})
}

func (h *OrderHandler) UpdateStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UpdateStatusRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	o, err := h.machine.Advance(ctx, actorFromContext(ctx), req.OrderID, req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

func (h *OrderHandler) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CancelOrderRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	o, err := h.machine.Cancel(ctx, actorFromContext(ctx), req.OrderID, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

func (h *OrderHandler) MarkReceived(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetOrderRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	o, err := h.machine.MarkReceived(ctx, actorFromContext(ctx), req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

// RecordPayment is reserved for admins; the gateway calls it on behalf of the
// payment provider.
func (h *OrderHandler) RecordPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RecordPaymentRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	actor := actorFromContext(ctx)
	if !actor.Authenticated() {
		return nil, toStatus(models.ErrAuthenticationRequired)
	}
	if !actor.IsAdmin() {
		return nil, toStatus(models.ErrForbidden)
	}
	o, err := h.machine.RecordPayment(ctx, req.OrderID, req.Reference, req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(o)
}

func (h *OrderHandler) OrderHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OrderHistoryRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	entries, err := h.query.History(ctx, actorFromContext(ctx), req.OrderID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(OrderHistoryResponse{Entries: entries})
}

func decodeRequest(in *structpb.Struct, v interface{}) error {
	if err := decode(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encodeResponse(v interface{}) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func actorFromContext(ctx context.Context) models.Actor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return models.Actor{}
	}
	return models.Actor{
		UserID: strings.TrimSpace(first(md.Get(MetadataUserID))),
		Role:   models.ParseRole(first(md.Get(MetadataUserRole))),
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// OrderServer owns the order service's connections and domain objects.
type OrderServer struct {
	db        *gorm.DB
	redis     *repository.RedisRepository
	mongo     *repository.MongoRepository
	handler   *OrderHandler
	assembler *order.Assembler
	grpc      *grpc.Server
	health    *health.Server
	logger    *zap.Logger
	config    *config.Config
}

func NewOrderServer(cfg *config.Config, logger *zap.Logger) (*OrderServer, error) {
	db, err := repository.OpenMySQL(&cfg.MySQL)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}
	if cfg.MySQL.MigrateCatalogs {
		if err := repository.MigrateCatalogs(db); err != nil {
			return nil, err
		}
	}

	redisRepo := repository.NewRedisRepository(&cfg.Redis)

	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	rates, err := fee.RatesFromConfig(cfg.Fees)
	if err != nil {
		return nil, err
	}
	deliveryFee, err := decimal.NewFromString(cfg.Order.DeliveryFee)
	if err != nil {
		return nil, fmt.Errorf("invalid order.delivery_fee %q: %w", cfg.Order.DeliveryFee, err)
	}

	resolver := catalog.NewResolver(repository.CatalogLookups(db), cfg.Catalog.LookupTimeout, logger.Named("catalog"))
	carts := cart.NewStore(redisRepo, cart.Options{
		MaxQuantity: cfg.Cart.MaxQuantity,
		Resolver:    resolver,
		Publisher:   repository.NewCartNotifier(redisRepo, logger.Named("cart-notifier")),
		Logger:      logger.Named("cart"),
	})
	orders := repository.NewOrderRepository(db)

	assembler := order.NewAssembler(orders, carts, resolver, fee.NewCalculator(rates), order.AssemblerOptions{
		Audit:        mongoRepo,
		Logger:       logger.Named("assembler"),
		PlaceTimeout: cfg.Order.PlaceTimeout,
	})
	machine := order.NewStateMachine(orders, order.StateMachineOptions{
		RequirePaidForPrepaid: cfg.Order.RequirePaidForPrepaid,
		Audit:                 mongoRepo,
		Logger:                logger.Named("state-machine"),
	})

	return &OrderServer{
		db:        db,
		redis:     redisRepo,
		mongo:     mongoRepo,
		handler:   NewOrderHandler(assembler, machine, order.NewQuery(orders).WithHistory(mongoRepo), deliveryFee, logger.Named("rpc")),
		assembler: assembler,
		health:    health.NewServer(),
		logger:    logger,
		config:    cfg,
	}, nil
}

// NewGRPCServer registers handler, health and reflection on a new server.
func NewGRPCServer(handler OrderService, healthSrv *health.Server, logger *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	RegisterOrderServiceServer(srv, handler)
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return srv
}

func (s *OrderServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.grpc = NewGRPCServer(s.handler, s.health, s.logger.Named("grpc"))

	s.logger.Info("Order service started", zap.String("address", addr))

	return s.grpc.Serve(lis)
}

// RunDraftSweeper purges stale drafts every interval until ctx is done.
func (s *OrderServer) RunDraftSweeper(ctx context.Context) {
	interval := s.config.Order.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ttl := s.config.Order.DraftTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.assembler.PurgeStaleDrafts(ctx, ttl); err != nil {
				s.logger.Warn("Draft sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *OrderServer) Close() error {
	s.health.Shutdown()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	s.redis.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.mongo.Close(ctx)
}

func (s *OrderServer) Redis() *repository.RedisRepository {
	return s.redis
}

func (s *OrderServer) Mongo() *repository.MongoRepository {
	return s.mongo
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch code {
		case codes.OK:
			logger.Debug("RPC handled", fields...)
		case codes.Internal, codes.Unavailable, codes.Unknown:
			logger.Error("RPC failed", append(fields, zap.Error(err))...)
		default:
			logger.Info("RPC rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
