package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu       sync.Mutex
	products map[string]*models.Product
	delay    time.Duration
	err      error
	calls    int
}

func (f *fakeLookup) GetByID(ctx context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func product(id, seller string) *models.Product {
	p := &models.Product{ID: id, Name: "item " + id}
	if seller != "" {
		p.SellerID = &seller
	}
	return p
}

func newLookups() (general, preloved, barter *fakeLookup) {
	general = &fakeLookup{products: map[string]*models.Product{}}
	preloved = &fakeLookup{products: map[string]*models.Product{}}
	barter = &fakeLookup{products: map[string]*models.Product{}}
	return
}

func newResolver(general, preloved, barter *fakeLookup, timeout time.Duration) *Resolver {
	return NewResolver(map[models.Catalog]Lookup{
		models.CatalogGeneral:  general,
		models.CatalogPreloved: preloved,
		models.CatalogBarter:   barter,
	}, timeout, nil)
}

func TestResolveSeller_PriorityGeneralFirst(t *testing.T) {
	general, preloved, barter := newLookups()
	general.products["p-1"] = product("p-1", "seller-general")
	preloved.products["p-1"] = product("p-1", "seller-preloved")

	r := newResolver(general, preloved, barter, time.Second)
	res, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, "seller-general", res.SellerID)
	assert.Equal(t, models.CatalogGeneral, res.Ref.Catalog)
	assert.Equal(t, 0, preloved.callCount())
}

func TestResolveSeller_FallsThroughToBarter(t *testing.T) {
	general, preloved, barter := newLookups()
	barter.products["b-9"] = product("b-9", "seller-barter")

	r := newResolver(general, preloved, barter, time.Second)
	res, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "b-9"})
	require.NoError(t, err)
	assert.Equal(t, "seller-barter", res.SellerID)
	assert.Equal(t, models.CatalogBarter, res.Ref.Catalog)
	assert.Equal(t, 1, general.callCount())
	assert.Equal(t, 1, preloved.callCount())
}

func TestResolveSeller_SkipsRowWithoutSeller(t *testing.T) {
	general, preloved, barter := newLookups()
	general.products["p-2"] = product("p-2", "")
	preloved.products["p-2"] = product("p-2", "seller-preloved")

	r := newResolver(general, preloved, barter, time.Second)
	res, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "p-2"})
	require.NoError(t, err)
	assert.Equal(t, "seller-preloved", res.SellerID)
}

func TestResolveSeller_TaggedRefReadsOnlyItsCatalog(t *testing.T) {
	general, preloved, barter := newLookups()
	general.products["p-3"] = product("p-3", "seller-general")
	preloved.products["p-3"] = product("p-3", "seller-preloved")

	r := newResolver(general, preloved, barter, time.Second)
	res, err := r.ResolveSeller(context.Background(), models.ProductRef{Catalog: models.CatalogPreloved, ID: "p-3"})
	require.NoError(t, err)
	assert.Equal(t, "seller-preloved", res.SellerID)
	assert.Equal(t, 0, general.callCount())
}

func TestResolveSeller_Unresolved(t *testing.T) {
	general, preloved, barter := newLookups()

	r := newResolver(general, preloved, barter, time.Second)
	_, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "ghost"})
	assert.ErrorIs(t, err, models.ErrSellerUnresolved)

	_, err = r.ResolveSeller(context.Background(), models.ProductRef{})
	assert.ErrorIs(t, err, models.ErrSellerUnresolved)
}

func TestResolveSeller_LookupTimeout(t *testing.T) {
	general, preloved, barter := newLookups()
	general.delay = 200 * time.Millisecond
	preloved.products["p-4"] = product("p-4", "seller-preloved")

	r := newResolver(general, preloved, barter, 20*time.Millisecond)
	_, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "p-4"})
	assert.ErrorIs(t, err, models.ErrResolutionTimeout)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, 0, preloved.callCount())
}

func TestResolveSeller_StorageError(t *testing.T) {
	general, preloved, barter := newLookups()
	general.err = errors.New("connection refused")

	r := newResolver(general, preloved, barter, time.Second)
	_, err := r.ResolveSeller(context.Background(), models.ProductRef{ID: "p-5"})
	assert.ErrorIs(t, err, models.ErrPersistenceFailure)
}

func TestSession_Memoizes(t *testing.T) {
	general, preloved, barter := newLookups()
	general.products["p-6"] = product("p-6", "seller-a")

	s := newResolver(general, preloved, barter, time.Second).Session()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := s.ResolveSeller(ctx, models.ProductRef{ID: "p-6"})
		require.NoError(t, err)
		assert.Equal(t, "seller-a", res.SellerID)
	}
	for i := 0; i < 2; i++ {
		_, err := s.ResolveSeller(ctx, models.ProductRef{ID: "missing"})
		assert.ErrorIs(t, err, models.ErrSellerUnresolved)
	}

	// one hit for p-6, one miss for "missing"
	assert.Equal(t, 2, general.callCount())
	assert.Equal(t, 1, barter.callCount())
}
