package order_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/order"
	"github.com/example/marketplace/pkg/repository"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

var errInjected = errors.New("injected failure")

// memoryRepo is an in-memory order.Repository with switchable failures.
type memoryRepo struct {
	mu     sync.Mutex
	orders map[string]*models.Order

	failCreate  bool
	failPublish bool
	failUpdate  bool
	// beforeUpdate runs once, right before the next CompareAndUpdate applies.
	beforeUpdate func(o *models.Order)
	// beforePublish runs once, right before the next Publish.
	beforePublish func()
	discarded    []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[string]*models.Order)}
}

func (r *memoryRepo) CreateDraft(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return models.Persistence("create draft order", errInjected)
	}
	cp := *o
	cp.Draft = true
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	r.orders[o.ID] = &cp
	return nil
}

func (r *memoryRepo) Publish(_ context.Context, id string) error {
	r.mu.Lock()
	hook := r.beforePublish
	r.beforePublish = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPublish {
		return models.Persistence("publish order", errInjected)
	}
	o, ok := r.orders[id]
	if !ok || !o.Draft {
		return models.ErrOrderNotFound
	}
	o.Draft = false
	return nil
}

func (r *memoryRepo) Discard(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok && o.Draft {
		delete(r.orders, id)
		r.discarded = append(r.discarded, id)
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Draft {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context, f models.OrderFilter) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.Draft ||
			(f.BuyerID != "" && o.BuyerID != f.BuyerID) ||
			(f.SellerID != "" && o.SellerID != f.SellerID) ||
			(f.Status != "" && o.Status != f.Status) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memoryRepo) CompareAndUpdate(_ context.Context, id string, guard models.OrderGuard, changes map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return models.Persistence("update order", errInjected)
	}
	o, ok := r.orders[id]
	if !ok || o.Draft {
		return models.ErrOrderNotFound
	}
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook(o)
	}
	if (guard.Status != "" && o.Status != guard.Status) ||
		(guard.PaymentStatus != "" && o.PaymentStatus != guard.PaymentStatus) {
		return models.ErrStaleOrder
	}
	for k, v := range changes {
		switch k {
		case "status":
			o.Status = v.(models.OrderStatus)
		case "payment_status":
			o.PaymentStatus = v.(models.PaymentStatus)
		case "cancellation_reason":
			o.CancellationReason = v.(string)
		case "paid_at":
			t := v.(time.Time)
			o.PaidAt = &t
		case "payment_reference":
			s := v.(string)
			o.PaymentReference = &s
		}
	}
	return nil
}

func (r *memoryRepo) PurgeDrafts(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, o := range r.orders {
		if o.Draft && o.CreatedAt.Before(olderThan) {
			delete(r.orders, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) put(o *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
}

func (r *memoryRepo) visible() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.orders {
		if !o.Draft {
			n++
		}
	}
	return n
}

// failingCart wraps a real cart store and can fail removals.
type failingCart struct {
	*cart.Store
	failRemove bool
	// beforeRemove runs once, right before the next removal.
	beforeRemove func()
}

func (c *failingCart) RemoveLines(ctx context.Context, userID string, ids []string) ([]models.CartLine, error) {
	if c.failRemove {
		return nil, models.Persistence("remove cart lines", errInjected)
	}
	if hook := c.beforeRemove; hook != nil {
		c.beforeRemove = nil
		hook()
	}
	return c.Store.RemoveLines(ctx, userID, ids)
}

type lookupFunc func(ctx context.Context, id string) (*models.Product, error)

func (f lookupFunc) GetByID(ctx context.Context, id string) (*models.Product, error) {
	return f(ctx, id)
}

func catalogOf(products ...*models.Product) catalog.Lookup {
	byID := make(map[string]*models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return lookupFunc(func(_ context.Context, id string) (*models.Product, error) {
		if p, ok := byID[id]; ok {
			return p, nil
		}
		return nil, models.ErrProductNotFound
	})
}

func product(id, seller, name, price string) *models.Product {
	p := &models.Product{ID: id, Name: name, Image: "img/" + id, Price: decimal.RequireFromString(price)}
	if seller != "" {
		p.SellerID = &seller
	}
	return p
}

type harness struct {
	repo      *memoryRepo
	carts     *cart.Store
	cart      *failingCart
	assembler *order.Assembler
}

func newHarness(t *testing.T, lookups map[models.Catalog]catalog.Lookup) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zaptest.NewLogger(t)
	resolver := catalog.NewResolver(lookups, 200*time.Millisecond, logger)
	carts := cart.NewStore(repository.NewRedisRepositoryWithClient(client, nil), cart.Options{
		Resolver: resolver,
		Logger:   logger,
	})
	fc := &failingCart{Store: carts}
	repo := newMemoryRepo()
	return &harness{
		repo:  repo,
		carts: carts,
		cart:  fc,
		assembler: order.NewAssembler(repo, fc, resolver, fee.NewCalculator(fee.DefaultRates()),
			order.AssemblerOptions{Logger: logger, PlaceTimeout: 5 * time.Second}),
	}
}

func defaultLookups() map[models.Catalog]catalog.Lookup {
	return map[models.Catalog]catalog.Lookup{
		models.CatalogGeneral: catalogOf(
			product("A", "seller-1", "Rice cooker", "500"),
			product("B", "seller-1", "Electric fan", "300"),
			product("C", "seller-2", "Desk lamp", "200"),
			product("D", "seller-1", "Standing desk", "950"),
			product("S", "seller-1", "Bar soap", "100"),
		),
		models.CatalogPreloved: catalogOf(product("P", "seller-3", "Denim jacket", "750")),
		models.CatalogBarter:   catalogOf(),
	}
}
