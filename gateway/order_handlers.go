package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/example/marketplace/pkg/grpc"
	"github.com/example/marketplace/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paymentActor is the identity the gateway uses when relaying payment
// provider callbacks to the order service.
var paymentActor = models.Actor{UserID: "payment-callback", Role: models.RoleAdmin}

// Buyers never choose the delivery fee or the payment status; the order
// service applies its configured fee and payment status comes from the
// provider callback.
type checkoutRequest struct {
	ProductIDs      []string             `json:"product_ids"`
	DeliveryAddress models.Address       `json:"delivery_address"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" binding:"required"`
	Notes           string               `json:"notes"`
}

type buyNowRequest struct {
	Items           []grpc.OrderItemInput `json:"items"`
	DeliveryAddress models.Address        `json:"delivery_address"`
	PaymentMethod   models.PaymentMethod  `json:"payment_method" binding:"required"`
	Notes           string                `json:"notes"`
}

type listOrdersQuery struct {
	Status   string `form:"status"`
	BuyerID  string `form:"buyer_id"`
	SellerID string `form:"seller_id"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

type historyQuery struct {
	Limit int `form:"limit"`
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type paymentCallbackRequest struct {
	OrderID   string               `json:"order_id" binding:"required"`
	Reference string               `json:"reference"`
	Status    models.PaymentStatus `json:"status" binding:"required"`
}

type feeQuoteQuery struct {
	Method string `form:"method" binding:"required"`
	Amount string `form:"amount" binding:"required"`
}

func normalizeMethod(m models.PaymentMethod) models.PaymentMethod {
	return models.PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
}

// checkout places an order from the caller's cart, optionally limited to
// product_ids.
func (g *Gateway) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	o, err := g.orders.PlaceOrder(c.Request.Context(), actorFrom(c), grpc.PlaceOrderRequest{
		FromCart:        true,
		ProductIDs:      req.ProductIDs,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   normalizeMethod(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// buyNow places an order for the given items without touching the cart.
func (g *Gateway) buyNow(c *gin.Context) {
	var req buyNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	for i := range req.Items {
		catalog, err := models.ParseCatalog(string(req.Items[i].Catalog))
		if err != nil {
			badRequest(c, err)
			return
		}
		req.Items[i].Catalog = catalog
	}

	o, err := g.orders.PlaceOrder(c.Request.Context(), actorFrom(c), grpc.PlaceOrderRequest{
		Items:           req.Items,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   normalizeMethod(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (g *Gateway) getOrder(c *gin.Context) {
	o, err := g.orders.GetOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) orderHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	entries, err := g.orders.OrderHistory(c.Request.Context(), actorFrom(c), c.Param("id"), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (g *Gateway) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := g.orders.ListOrders(c.Request.Context(), actorFrom(c), grpc.ListOrdersRequest{
		Status:   models.OrderStatus(strings.ToUpper(q.Status)),
		BuyerID:  q.BuyerID,
		SellerID: q.SellerID,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if resp.Orders == nil {
		resp.Orders = []models.Order{}
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	to := models.OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	o, err := g.orders.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	o, err := g.orders.CancelOrder(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) markReceived(c *gin.Context) {
	o, err := g.orders.MarkReceived(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// paymentCallback records the outcome reported by the payment provider. The
// provider must present the shared token; with no token configured every
// callback is refused.
func (g *Gateway) paymentCallback(c *gin.Context) {
	token := g.config.Gateway.PaymentCallbackToken
	if token == "" {
		g.logger.Warn("Payment callback refused, no callback token configured",
			zap.String("client_ip", c.ClientIP()))
		writeError(c, models.ErrAuthenticationRequired)
		return
	}
	got := c.GetHeader(HeaderCallbackToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		writeError(c, models.ErrAuthenticationRequired)
		return
	}

	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	o, err := g.orders.RecordPayment(c.Request.Context(), paymentActor, grpc.RecordPaymentRequest{
		OrderID:   req.OrderID,
		Reference: req.Reference,
		Status:    models.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(req.Status)))),
	})
	if err != nil {
		g.logger.Warn("Payment callback rejected",
			zap.String("order_id", req.OrderID),
			zap.String("reference", req.Reference),
			zap.Error(err))
		writeError(c, err)
		return
	}

	g.logger.Info("Payment recorded",
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(o.PaymentStatus)))
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) quoteFee(c *gin.Context) {
	var q feeQuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}

	breakdown, err := g.fees.Compute(normalizeMethod(models.PaymentMethod(q.Method)), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}
