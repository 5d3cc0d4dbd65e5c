package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Catalog identifies one of the independent product listing tables.
type Catalog string

const (
	CatalogGeneral  Catalog = "GENERAL"
	CatalogPreloved Catalog = "PRELOVED"
	CatalogBarter   Catalog = "BARTER"
)

// CatalogPriority is the lookup order used when a product reference carries no
// catalog tag. General products win over preloved items, which win over barter
// items, whenever ids collide across catalogs.
var CatalogPriority = []Catalog{CatalogGeneral, CatalogPreloved, CatalogBarter}

func (c Catalog) Valid() bool {
	switch c {
	case CatalogGeneral, CatalogPreloved, CatalogBarter:
		return true
	}
	return false
}

// Table returns the relational table backing the catalog.
func (c Catalog) Table() string {
	switch c {
	case CatalogGeneral:
		return "general_products"
	case CatalogPreloved:
		return "preloved_items"
	case CatalogBarter:
		return "barter_items"
	}
	return ""
}

func ParseCatalog(s string) (Catalog, error) {
	if s == "" {
		return "", nil
	}
	c := Catalog(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown catalog %q", s)
	}
	return c, nil
}

// ProductRef points at a product. Catalog is empty when the caller lost the tag.
type ProductRef struct {
	Catalog Catalog `json:"catalog,omitempty"`
	ID      string  `json:"id"`
}

func (r ProductRef) Tagged() bool {
	return r.Catalog != ""
}

func (r ProductRef) String() string {
	if r.Catalog == "" {
		return r.ID
	}
	return string(r.Catalog) + ":" + r.ID
}

// Product is a row in any of the catalog tables. All three tables share this
// shape; the catalog decides the table name.
type Product struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SellerID  *string         `gorm:"type:varchar(36);index" json:"seller_id,omitempty"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Image     string          `gorm:"type:varchar(512)" json:"image"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Seller returns the product's seller id, or "" when none is recorded.
func (p *Product) Seller() string {
	if p == nil || p.SellerID == nil {
		return ""
	}
	return strings.TrimSpace(*p.SellerID)
}
