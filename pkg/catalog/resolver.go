// Package catalog finds the seller behind a product reference across the
// independent general, preloved and barter catalogs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/marketplace/pkg/models"
	"go.uber.org/zap"
)

const DefaultLookupTimeout = 2 * time.Second

// Lookup reads a single catalog. Missing rows are reported as
// models.ErrProductNotFound.
type Lookup interface {
	GetByID(ctx context.Context, productID string) (*models.Product, error)
}

// Resolution is the outcome of a successful seller lookup. Ref always carries
// the catalog the product was found in.
type Resolution struct {
	Ref      models.ProductRef
	SellerID string
	Product  *models.Product
}

type Resolver struct {
	lookups      map[models.Catalog]Lookup
	lookupTimeout time.Duration
	logger       *zap.Logger
}

func NewResolver(lookups map[models.Catalog]Lookup, lookupTimeout time.Duration, logger *zap.Logger) *Resolver {
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		lookups:      lookups,
		lookupTimeout: lookupTimeout,
		logger:       logger,
	}
}

// ResolveSeller finds the seller of ref. A tagged reference is looked up in its
// own catalog only. An untagged one tries models.CatalogPriority in order and
// stops at the first row that has a seller.
func (r *Resolver) ResolveSeller(ctx context.Context, ref models.ProductRef) (Resolution, error) {
	if ref.ID == "" {
		return Resolution{}, fmt.Errorf("%w: empty product id", models.ErrSellerUnresolved)
	}

	catalogs := models.CatalogPriority
	if ref.Tagged() {
		catalogs = []models.Catalog{ref.Catalog}
	}

	for _, c := range catalogs {
		product, err := r.find(ctx, c, ref.ID)
		if err != nil {
			return Resolution{}, err
		}
		if product == nil {
			continue
		}
		seller := product.Seller()
		if seller == "" {
			r.logger.Debug("Catalog row has no seller",
				zap.String("catalog", string(c)),
				zap.String("product_id", ref.ID))
			continue
		}
		return Resolution{
			Ref:      models.ProductRef{Catalog: c, ID: ref.ID},
			SellerID: seller,
			Product:  product,
		}, nil
	}

	return Resolution{}, fmt.Errorf("%w: product %s", models.ErrSellerUnresolved, ref)
}

// find returns (nil, nil) when the catalog has no such product.
func (r *Resolver) find(ctx context.Context, c models.Catalog, id string) (*models.Product, error) {
	lookup, ok := r.lookups[c]
	if !ok || lookup == nil {
		return nil, nil
	}

	pctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	start := time.Now()
	product, err := lookup.GetByID(pctx, id)
	switch {
	case err == nil:
		return product, nil
	case errors.Is(err, models.ErrProductNotFound):
		return nil, nil
	case ctx.Err() != nil:
		// The caller gave up; report that rather than a lookup timeout.
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded):
		r.logger.Warn("Catalog lookup timed out",
			zap.String("catalog", string(c)),
			zap.String("product_id", id),
			zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: %s catalog, product %s", models.ErrResolutionTimeout, c, id)
	default:
		return nil, models.Persistence("catalog "+string(c)+" lookup", err)
	}
}

// Session returns a resolver that remembers results, failures included, for its
// lifetime. Use one session per order assembly.
func (r *Resolver) Session() *Session {
	return &Session{
		resolver: r,
		memo:     make(map[models.ProductRef]memoEntry),
	}
}

type memoEntry struct {
	res Resolution
	err error
}

type Session struct {
	resolver *Resolver

	mu   sync.Mutex
	memo map[models.ProductRef]memoEntry
}

func (s *Session) ResolveSeller(ctx context.Context, ref models.ProductRef) (Resolution, error) {
	s.mu.Lock()
	if e, ok := s.memo[ref]; ok {
		s.mu.Unlock()
		return e.res, e.err
	}
	s.mu.Unlock()

	res, err := s.resolver.ResolveSeller(ctx, ref)

	// Cancellation says nothing about the product, so it is not remembered.
	if errors.Is(err, context.Canceled) {
		return res, err
	}
	s.mu.Lock()
	s.memo[ref] = memoEntry{res: res, err: err}
	s.mu.Unlock()
	return res, err
}
