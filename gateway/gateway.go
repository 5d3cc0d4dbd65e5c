package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/example/marketplace/gateway/docs"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/grpc"
	"github.com/example/marketplace/pkg/models"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderUserRole      = "X-User-Role"
	HeaderCallbackToken = "X-Callback-Token"

	actorKey = "actor"
)

// OrderAPI is the order service as seen by the gateway. *grpc.OrderClient
// implements it.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, actor models.Actor, req grpc.PlaceOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, actor models.Actor, req grpc.ListOrdersRequest) (*grpc.ListOrdersResponse, error)
	UpdateStatus(ctx context.Context, actor models.Actor, orderID string, to models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error)
	MarkReceived(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	RecordPayment(ctx context.Context, actor models.Actor, req grpc.RecordPaymentRequest) (*models.Order, error)
	OrderHistory(ctx context.Context, actor models.Actor, orderID string, limit int) ([]models.AuditEntry, error)
}

type Gateway struct {
	config *config.Config
	logger *zap.Logger
	router *gin.Engine
	server *http.Server

	carts  *cart.Store
	orders OrderAPI
	fees   *fee.Calculator

	// streams is cancelled on Shutdown so that open cart streams return.
	streams     context.Context
	stopStreams context.CancelFunc
}

func NewGateway(cfg *config.Config, logger *zap.Logger, carts *cart.Store, orders OrderAPI, fees *fee.Calculator) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	router.Use(identityMiddleware())

	if fees == nil {
		fees = fee.NewCalculator(nil)
	}

	streams, stopStreams := context.WithCancel(context.Background())

	return &Gateway{
		config:      cfg,
		logger:      logger,
		router:      router,
		server:      &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), Handler: router},
		carts:       carts,
		orders:      orders,
		fees:        fees,
		streams:     streams,
		stopStreams: stopStreams,
	}
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Swagger documentation
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 routes
	v1 := g.router.Group("/api/v1")
	{
		// Cart routes
		carts := v1.Group("/cart", requireUser())
		{
			carts.GET("", g.getCart)
			carts.GET("/stream", g.streamCart)
			carts.POST("/items", g.addCartItem)
			carts.PUT("/items/:productId", g.updateCartItem)
			carts.DELETE("/items/:productId", g.removeCartItem)
			carts.DELETE("", g.clearCart)
		}

		// Order routes
		orders := v1.Group("/orders", requireUser())
		{
			orders.POST("", g.checkout)
			orders.POST("/buy-now", g.buyNow)
			orders.GET("/:id", g.getOrder)
			orders.GET("/:id/history", g.orderHistory)
			orders.GET("", g.listOrders)
			orders.POST("/:id/status", g.updateOrderStatus)
			orders.POST("/:id/cancel", g.cancelOrder)
			orders.POST("/:id/received", g.markReceived)
		}

		v1.POST("/payments/callback", g.paymentCallback)
		v1.GET("/fees/quote", g.quoteFee)
	}
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	g.logger.Info("Gateway starting", zap.String("address", g.server.Addr))

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open cart streams, stops accepting requests and waits for
// in-flight ones until ctx expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.stopStreams()
	return g.server.Shutdown(ctx)
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("user_id", actorFrom(c).UserID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// identityMiddleware reads the caller's identity as set by the upstream
// identity provider. The headers are trusted as-is.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(actorKey, models.Actor{
			UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role:   models.ParseRole(c.GetHeader(HeaderUserRole)),
		})
		c.Next()
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Authenticated() {
			writeError(c, models.ErrAuthenticationRequired)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return models.Actor{}
}
