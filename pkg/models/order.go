package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusInTransit      OrderStatus = "IN_TRANSIT"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodGCash   PaymentMethod = "gcash"
	PaymentMethodMaya    PaymentMethod = "maya"
	PaymentMethodGrabPay PaymentMethod = "grabpay"
)

// Prepaid reports whether the method settles before delivery.
func (m PaymentMethod) Prepaid() bool {
	return m != PaymentMethodCOD
}

// Address is a denormalized delivery address copied into the order.
type Address struct {
	RecipientName string   `json:"recipient_name"`
	Phone         string   `json:"phone"`
	Line1         string   `json:"line1"`
	Line2         string   `json:"line2,omitempty"`
	Barangay      string   `json:"barangay,omitempty"`
	City          string   `json:"city"`
	Province      string   `json:"province,omitempty"`
	PostalCode    string   `json:"postal_code,omitempty"`
	Country       string   `json:"country,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type Order struct {
	ID                 string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber        string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"order_number"`
	BuyerID            string          `gorm:"type:varchar(36);not null;index" json:"buyer_id"`
	SellerID           string          `gorm:"type:varchar(36);not null;index" json:"seller_id"`
	Status             OrderStatus     `gorm:"type:varchar(20);not null" json:"status"`
	PaymentStatus      PaymentStatus   `gorm:"type:varchar(20);not null" json:"payment_status"`
	PaymentMethod      PaymentMethod   `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentReference   *string         `gorm:"type:varchar(128)" json:"payment_reference,omitempty"`
	Subtotal           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	DeliveryFee        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"delivery_fee"`
	PaymentFee         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"payment_fee"`
	Total              decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	DeliveryAddress    Address         `gorm:"type:text;serializer:json" json:"delivery_address"`
	Notes              string          `gorm:"type:text" json:"notes,omitempty"`
	Draft              bool            `gorm:"not null;index" json:"-"`
	Items              []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `gorm:"type:varchar(255)" json:"cancellation_reason,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID                   string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID              string          `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ProductID            string          `gorm:"type:varchar(36);not null" json:"product_id"`
	Catalog              Catalog         `gorm:"type:varchar(16)" json:"catalog"`
	ProductNameSnapshot  string          `gorm:"type:varchar(255);not null" json:"product_name"`
	ProductImageSnapshot string          `gorm:"type:varchar(512)" json:"product_image,omitempty"`
	UnitPriceSnapshot    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Quantity             int             `gorm:"not null" json:"quantity"`
	LineTotal            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
	SellerID             string          `gorm:"type:varchar(36);not null" json:"seller_id"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// OrderFilter narrows order listings. Empty fields are ignored.
type OrderFilter struct {
	BuyerID  string
	SellerID string
	Status   OrderStatus
	Page     int
	PageSize int
}

// OrderGuard is the state an order must still be in for an update to apply.
type OrderGuard struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// AuditEntry records one lifecycle event for an order. At is filled in when
// the entry is read back.
type AuditEntry struct {
	Action   string                 `json:"action"`
	EntityID string                 `json:"entity_id"`
	ActorID  string                 `json:"actor_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	At       time.Time              `json:"at"`
}
