package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxCartQuantity caps the sum of all line quantities in one user's cart.
const DefaultMaxCartQuantity = 20

type CartLine struct {
	UserID    string          `json:"user_id"`
	ProductID string          `json:"product_id"`
	Catalog   Catalog         `json:"catalog,omitempty"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	SellerID  string          `json:"seller_id,omitempty"`
	AddedAt   time.Time       `json:"added_at"`
}

func (l CartLine) Ref() ProductRef {
	return ProductRef{Catalog: l.Catalog, ID: l.ProductID}
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartSnapshot is the full state of one user's cart at a given version.
type CartSnapshot struct {
	UserID    string     `json:"user_id"`
	Version   int64      `json:"version"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (s CartSnapshot) TotalQuantity() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s CartSnapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// CartMutation edits a user's lines in place, keyed by product id. Returning an
// error aborts the mutation and leaves the stored cart untouched.
type CartMutation func(lines map[string]*CartLine) error
