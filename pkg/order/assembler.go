// Package order turns carts into orders and drives them through their
// delivery and payment lifecycle.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const compensateTimeout = 5 * time.Second

// Repository persists orders. CreateDraft writes the order row and all of its
// items in one transaction, hidden from Get and List until Publish.
type Repository interface {
	CreateDraft(ctx context.Context, o *models.Order) error
	Publish(ctx context.Context, orderID string) error
	Discard(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*models.Order, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error)
	CompareAndUpdate(ctx context.Context, orderID string, guard models.OrderGuard, changes map[string]interface{}) error
	PurgeDrafts(ctx context.Context, olderThan time.Time) (int64, error)
}

// Cart is the slice of the cart store the assembler needs.
type Cart interface {
	Snapshot(ctx context.Context, userID string) (models.CartSnapshot, error)
	RemoveLines(ctx context.Context, userID string, productIDs []string) ([]models.CartLine, error)
	Restore(ctx context.Context, userID string, lines []models.CartLine) error
}

type FeeCalculator interface {
	Supports(method models.PaymentMethod) bool
	Compute(method models.PaymentMethod, gross decimal.Decimal) (fee.Breakdown, error)
}

type AuditLogger interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// PlaceOrderRequest carries everything needed to create one order. Items may
// come from a cart snapshot or from an ad-hoc buy-now flow. Unit prices and
// sellers on the items are only hints: the catalog row decides both.
//
// DeliveryFee, PaymentStatus and PaymentReference are set by the service, not
// by the buyer. A PAID status needs the provider's reference.
type PlaceOrderRequest struct {
	BuyerID          string
	Items            []models.CartLine
	DeliveryAddress  models.Address
	PaymentMethod    models.PaymentMethod
	PaymentStatus    models.PaymentStatus
	PaymentReference string
	DeliveryFee      decimal.Decimal
	Notes            string

	// FromCart removes the ordered lines from the buyer's cart once the
	// order is written.
	FromCart bool
}

// CartOrderRequest selects lines already in the buyer's cart. An
// empty ProductIDs selects the whole cart.
type CartOrderRequest struct {
	BuyerID          string
	ProductIDs       []string
	DeliveryAddress  models.Address
	PaymentMethod    models.PaymentMethod
	PaymentStatus    models.PaymentStatus
	PaymentReference string
	DeliveryFee      decimal.Decimal
	Notes            string
}

type AssemblerOptions struct {
	Audit        AuditLogger
	Logger       *zap.Logger
	PlaceTimeout time.Duration
}

type Assembler struct {
	repo         Repository
	cart         Cart
	resolver     *catalog.Resolver
	fees         FeeCalculator
	audit        AuditLogger
	logger       *zap.Logger
	placeTimeout time.Duration
	now          func() time.Time
}

func NewAssembler(repo Repository, cart Cart, resolver *catalog.Resolver, fees FeeCalculator, opts AssemblerOptions) *Assembler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Assembler{
		repo:         repo,
		cart:         cart,
		resolver:     resolver,
		fees:         fees,
		audit:        opts.Audit,
		logger:       opts.Logger,
		placeTimeout: opts.PlaceTimeout,
		now:          time.Now,
	}
}

// PlaceFromCart places an order for the selected lines of the buyer's cart and
// removes exactly those lines.
func (a *Assembler) PlaceFromCart(ctx context.Context, req CartOrderRequest) (*models.Order, error) {
	if req.BuyerID == "" {
		return nil, models.ErrAuthenticationRequired
	}

	snap, err := a.cart.Snapshot(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}

	lines := snap.Lines
	if len(req.ProductIDs) > 0 {
		wanted := make(map[string]bool, len(req.ProductIDs))
		for _, id := range req.ProductIDs {
			wanted[id] = true
		}
		lines = lines[:0:0]
		for _, l := range snap.Lines {
			if wanted[l.ProductID] {
				lines = append(lines, l)
			}
		}
		if len(lines) != len(wanted) {
			return nil, fmt.Errorf("%w: %d of %d selected products are in the cart",
				models.ErrCartLineNotFound, len(lines), len(wanted))
		}
	}

	return a.PlaceOrder(ctx, PlaceOrderRequest{
		BuyerID:          req.BuyerID,
		Items:            lines,
		DeliveryAddress:  req.DeliveryAddress,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    req.PaymentStatus,
		PaymentReference: req.PaymentReference,
		DeliveryFee:      req.DeliveryFee,
		Notes:            req.Notes,
		FromCart:         true,
	})
}

// PlaceOrder validates and prices the items, attributes them to a seller and
// writes the order. The caller observes either a complete, visible order or an
// error with no order and an untouched cart.
func (a *Assembler) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, models.ErrEmptyOrder
	}
	if req.BuyerID == "" {
		return nil, models.ErrAuthenticationRequired
	}
	if req.DeliveryFee.IsNegative() {
		return nil, fmt.Errorf("%w: delivery fee %s", models.ErrInvalidAmount, req.DeliveryFee)
	}
	if !a.fees.Supports(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedPaymentMethod, req.PaymentMethod)
	}
	paymentStatus, err := initialPaymentStatus(req.PaymentMethod, req.PaymentStatus, req.PaymentReference)
	if err != nil {
		return nil, err
	}

	if a.placeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.placeTimeout)
		defer cancel()
	}

	items, sellerID, err := a.buildItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	deliveryFee := req.DeliveryFee.Round(2)
	breakdown, err := a.fees.Compute(req.PaymentMethod, subtotal.Add(deliveryFee))
	if err != nil {
		return nil, err
	}

	now := a.now()
	o := &models.Order{
		ID:              uuid.NewString(),
		OrderNumber:     NewOrderNumber(now),
		BuyerID:         req.BuyerID,
		SellerID:        sellerID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   paymentStatus,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        subtotal,
		DeliveryFee:     deliveryFee,
		PaymentFee:      breakdown.ComputedFee,
		Total:           subtotal.Add(deliveryFee).Add(breakdown.ComputedFee),
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		Draft:           true,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if paymentStatus == models.PaymentStatusPaid {
		o.PaidAt = &now
		ref := req.PaymentReference
		o.PaymentReference = &ref
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}

	if err := a.repo.CreateDraft(ctx, o); err != nil {
		a.logger.Error("Failed to write order", zap.String("buyer_id", req.BuyerID), zap.Error(err))
		return nil, models.Persistence("create order", err)
	}

	var removed []models.CartLine
	if req.FromCart {
		removed, err = a.takeFromCart(ctx, req.BuyerID, o.Items)
		if err != nil {
			a.compensate(o, nil)
			return nil, err
		}
	}

	if err := a.repo.Publish(ctx, o.ID); err != nil {
		a.compensate(o, removed)
		return nil, models.Persistence("publish order", err)
	}
	o.Draft = false

	a.logger.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("buyer_id", o.BuyerID),
		zap.String("seller_id", o.SellerID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Int("items", len(o.Items)))
	a.record(models.AuditEntry{
		Action:   "place_order",
		EntityID: o.ID,
		ActorID:  o.BuyerID,
		Data: map[string]interface{}{
			"order_number":   o.OrderNumber,
			"seller_id":      o.SellerID,
			"payment_method": string(o.PaymentMethod),
			"total":          o.Total.StringFixed(2),
		},
	})
	return o, nil
}

// buildItems freezes each line into an order item and picks the order's seller.
// Every line is resolved against its catalog: the catalog row supplies the
// price that gets frozen, and a seller already on the line must agree with it.
func (a *Assembler) buildItems(ctx context.Context, lines []models.CartLine) ([]models.OrderItem, string, error) {
	session := a.resolver.Session()
	items := make([]models.OrderItem, 0, len(lines))
	var sellers []string
	seen := make(map[string]bool)

	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, "", fmt.Errorf("%w: %d for product %s", models.ErrInvalidQuantity, line.Quantity, line.ProductID)
		}

		res, err := session.ResolveSeller(ctx, line.Ref())
		if err != nil {
			return nil, "", resolutionError(err)
		}
		if line.SellerID != "" && line.SellerID != res.SellerID {
			return nil, "", fmt.Errorf("%w: product %s is sold by %s, not %s",
				models.ErrSellerUnresolved, line.ProductID, res.SellerID, line.SellerID)
		}
		seller := res.SellerID
		cat := res.Ref.Catalog

		price := line.UnitPrice
		name, image := line.Name, line.Image
		if p := res.Product; p != nil {
			if !p.Price.Equal(price) {
				a.logger.Debug("Using catalog price",
					zap.String("product_id", line.ProductID),
					zap.String("line_price", price.String()),
					zap.String("catalog_price", p.Price.String()))
			}
			price = p.Price
			if p.Name != "" {
				name = p.Name
			}
			if p.Image != "" {
				image = p.Image
			}
		}
		if price.IsNegative() {
			return nil, "", fmt.Errorf("%w: unit price %s for product %s", models.ErrInvalidAmount, price, line.ProductID)
		}

		if !seen[seller] {
			seen[seller] = true
			sellers = append(sellers, seller)
		}

		price = price.Round(2)
		items = append(items, models.OrderItem{
			ID:                   uuid.NewString(),
			ProductID:            line.ProductID,
			Catalog:              cat,
			ProductNameSnapshot:  name,
			ProductImageSnapshot: image,
			UnitPriceSnapshot:    price,
			Quantity:             line.Quantity,
			LineTotal:            price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			SellerID:             seller,
		})
	}

	if len(sellers) == 0 {
		return nil, "", models.ErrSellerUnresolved
	}
	if len(sellers) > 1 {
		// One seller per order: the first item's seller owns the order.
		// Callers are expected to split multi-seller carts before placing.
		a.logger.Warn("Order spans several sellers, attributing to the first item's seller",
			zap.Strings("sellers", sellers))
	}
	return items, sellers[0], nil
}

// takeFromCart removes the ordered lines. If any of them is gone or has a
// different quantity, another session got there first and the removal is
// undone.
func (a *Assembler) takeFromCart(ctx context.Context, buyerID string, items []models.OrderItem) ([]models.CartLine, error) {
	ids := make([]string, 0, len(items))
	want := make(map[string]int, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
		want[it.ProductID] += it.Quantity
	}

	removed, err := a.cart.RemoveLines(ctx, buyerID, ids)
	if err != nil {
		return nil, models.Persistence("remove ordered cart lines", err)
	}

	matched := len(removed) == len(want)
	for _, l := range removed {
		if want[l.ProductID] != l.Quantity {
			matched = false
		}
	}
	if !matched {
		a.restoreCart(buyerID, removed)
		return nil, models.ErrCartChanged
	}
	return removed, nil
}

// compensate undoes a half-finished placement: the draft goes away and any
// removed cart lines come back.
func (a *Assembler) compensate(o *models.Order, removed []models.CartLine) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()

	if err := a.repo.Discard(ctx, o.ID); err != nil {
		// The draft stays invisible and the sweeper purges it later.
		a.logger.Error("Failed to discard draft order", zap.String("order_id", o.ID), zap.Error(err))
	}
	a.restoreCart(o.BuyerID, removed)
}

func (a *Assembler) restoreCart(buyerID string, lines []models.CartLine) {
	if len(lines) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()

	if err := a.cart.Restore(ctx, buyerID, lines); err != nil {
		a.logger.Error("Failed to restore cart lines",
			zap.String("buyer_id", buyerID),
			zap.Int("lines", len(lines)),
			zap.Error(err))
	}
}

// PurgeStaleDrafts removes drafts left behind by placements that died before
// compensating.
func (a *Assembler) PurgeStaleDrafts(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := a.repo.PurgeDrafts(ctx, a.now().Add(-ttl))
	if err != nil {
		return 0, models.Persistence("purge drafts", err)
	}
	if n > 0 {
		a.logger.Info("Purged stale draft orders", zap.Int64("count", n))
	}
	return n, nil
}

func (a *Assembler) record(entry models.AuditEntry) {
	if a.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
		defer cancel()
		if err := a.audit.Record(ctx, entry); err != nil {
			a.logger.Warn("Failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		}
	}()
}

func initialPaymentStatus(method models.PaymentMethod, requested models.PaymentStatus, reference string) (models.PaymentStatus, error) {
	if method == models.PaymentMethodCOD || requested == "" {
		return models.PaymentStatusPending, nil
	}
	switch requested {
	case models.PaymentStatusPending, models.PaymentStatusFailed:
		return requested, nil
	case models.PaymentStatusPaid:
		if strings.TrimSpace(reference) == "" {
			return "", fmt.Errorf("%w: a paid order needs a payment reference", models.ErrInvalidArgument)
		}
		return requested, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", models.ErrInvalidArgument, requested)
}

func resolutionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrResolutionTimeout) {
		return fmt.Errorf("%w: %w", models.ErrResolutionTimeout, err)
	}
	return err
}
