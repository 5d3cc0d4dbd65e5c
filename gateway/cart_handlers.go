package gateway

import (
	"net/http"
	"time"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultStreamHeartbeat = 25 * time.Second

type cartResponse struct {
	UserID        string            `json:"user_id"`
	Version       int64             `json:"version"`
	Lines         []models.CartLine `json:"lines"`
	TotalQuantity int               `json:"total_quantity"`
	MaxQuantity   int               `json:"max_quantity"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type addItemRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Catalog   string          `json:"catalog"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  *int            `json:"quantity"`
	SellerID  string          `json:"seller_id"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (g *Gateway) cartView(snap models.CartSnapshot) cartResponse {
	lines := snap.Lines
	if lines == nil {
		lines = []models.CartLine{}
	}
	return cartResponse{
		UserID:        snap.UserID,
		Version:       snap.Version,
		Lines:         lines,
		TotalQuantity: snap.TotalQuantity(),
		MaxQuantity:   g.carts.MaxQuantity(),
		Subtotal:      snap.Subtotal(),
		UpdatedAt:     snap.UpdatedAt,
	}
}

func (g *Gateway) getCart(c *gin.Context) {
	snap, err := g.carts.Snapshot(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.cartView(snap))
}

func (g *Gateway) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	catalog, err := models.ParseCatalog(req.Catalog)
	if err != nil {
		badRequest(c, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	snap, err := g.carts.AddItem(c.Request.Context(), actorFrom(c).UserID, cart.Item{
		Ref:       models.ProductRef{Catalog: catalog, ID: req.ProductID},
		Name:      req.Name,
		Image:     req.Image,
		UnitPrice: req.UnitPrice,
		SellerID:  req.SellerID,
	}, quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.cartView(snap))
}

func (g *Gateway) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	snap, err := g.carts.UpdateQuantity(c.Request.Context(), actorFrom(c).UserID, c.Param("productId"), *req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.cartView(snap))
}

func (g *Gateway) removeCartItem(c *gin.Context) {
	snap, err := g.carts.RemoveItem(c.Request.Context(), actorFrom(c).UserID, c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.cartView(snap))
}

func (g *Gateway) clearCart(c *gin.Context) {
	snap, err := g.carts.Clear(c.Request.Context(), actorFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.cartView(snap))
}

// streamCart sends the caller's cart as server-sent events: the current state
// first, then a "cart" event per change and a "ping" event while idle.
func (g *Gateway) streamCart(c *gin.Context) {
	ctx := c.Request.Context()
	userID := actorFrom(c).UserID

	pending := cart.NewFeed(nil)
	defer pending.Close()

	sub, err := g.carts.Subscribe(ctx, userID, pending.Offer)
	if err != nil {
		writeError(c, err)
		return
	}
	defer func() {
		if err := sub.Cancel(); err != nil {
			g.logger.Warn("Failed to cancel cart subscription", zap.String("user_id", userID), zap.Error(err))
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	interval := g.config.Gateway.StreamHeartbeat
	if interval <= 0 {
		interval = defaultStreamHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.streams.Done():
			return
		case snap := <-pending.Updates():
			c.SSEvent("cart", g.cartView(snap))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
