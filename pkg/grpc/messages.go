package grpc

import (
	"encoding/json"
	"fmt"

	"github.com/example/marketplace/pkg/models"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages travel as google.protobuf.Struct. These are their Go shapes.

// OrderItemInput names a product to buy. UnitPrice, Name and Image are display
// hints; the order freezes the catalog's values. A SellerID must match the
// catalog's seller.
type OrderItemInput struct {
	ProductID string          `json:"product_id"`
	Catalog   models.Catalog  `json:"catalog,omitempty"`
	Name      string          `json:"name,omitempty"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	SellerID  string          `json:"seller_id,omitempty"`
}

// PlaceOrderRequest either checks out cart lines (FromCart, optionally limited
// to ProductIDs) or orders Items directly. The buyer is the calling user.
// PaymentStatus, PaymentReference and DeliveryFee are honoured for admins only.
type PlaceOrderRequest struct {
	FromCart         bool                 `json:"from_cart"`
	ProductIDs       []string             `json:"product_ids,omitempty"`
	Items            []OrderItemInput     `json:"items,omitempty"`
	DeliveryAddress  models.Address       `json:"delivery_address"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	PaymentStatus    models.PaymentStatus `json:"payment_status,omitempty"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	DeliveryFee      *decimal.Decimal     `json:"delivery_fee,omitempty"`
	Notes            string               `json:"notes,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type OrderHistoryRequest struct {
	OrderID string `json:"order_id"`
	Limit   int    `json:"limit,omitempty"`
}

type OrderHistoryResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

type ListOrdersRequest struct {
	Status   models.OrderStatus `json:"status,omitempty"`
	BuyerID  string             `json:"buyer_id,omitempty"`
	SellerID string             `json:"seller_id,omitempty"`
	Page     int                `json:"page,omitempty"`
	PageSize int                `json:"page_size,omitempty"`
}

type ListOrdersResponse struct {
	Orders   []models.Order `json:"orders"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type UpdateStatusRequest struct {
	OrderID string             `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type RecordPaymentRequest struct {
	OrderID   string               `json:"order_id"`
	Reference string               `json:"reference,omitempty"`
	Status    models.PaymentStatus `json:"status"`
}

func (r OrderItemInput) cartLine() models.CartLine {
	return models.CartLine{
		ProductID: r.ProductID,
		Catalog:   r.Catalog,
		Name:      r.Name,
		Image:     r.Image,
		UnitPrice: r.UnitPrice,
		Quantity:  r.Quantity,
		SellerID:  r.SellerID,
	}
}

// encode turns any JSON-shaped value into a Struct.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message failed: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert message failed: %w", err)
	}
	return out, nil
}

// decode fills v from a Struct.
func decode(s *structpb.Struct, v interface{}) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert message failed: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message failed: %w", err)
	}
	return nil
}
