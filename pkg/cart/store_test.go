package cart_test

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/repository"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubResolver struct {
	sellers map[string]string
}

func (s stubResolver) ResolveSeller(_ context.Context, ref models.ProductRef) (catalog.Resolution, error) {
	seller, ok := s.sellers[ref.ID]
	if !ok {
		return catalog.Resolution{}, models.ErrSellerUnresolved
	}
	return catalog.Resolution{
		Ref:      models.ProductRef{Catalog: models.CatalogGeneral, ID: ref.ID},
		SellerID: seller,
		Product:  &models.Product{ID: ref.ID, Name: "catalog " + ref.ID, Image: "img/" + ref.ID, Price: decimal.NewFromInt(250)},
	}, nil
}

type env struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	repo     *repository.RedisRepository
	notifier *repository.CartNotifier
	store    *cart.Store
}

func setup(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := repository.NewRedisRepositoryWithClient(client, nil)
	notifier := repository.NewCartNotifier(repo, zaptest.NewLogger(t))
	store := cart.NewStore(repo, cart.Options{
		Resolver:   stubResolver{sellers: map[string]string{"A": "seller-1", "B": "seller-1"}},
		Publisher:  notifier,
		Subscriber: notifier,
		Logger:     zaptest.NewLogger(t),
	})
	return &env{mr: mr, client: client, repo: repo, notifier: notifier, store: store}
}

func item(id string, price int64) cart.Item {
	return cart.Item{
		Ref:       models.ProductRef{ID: id},
		Name:      "Item " + id,
		UnitPrice: decimal.NewFromInt(price),
	}
}

func quantities(s models.CartSnapshot) map[string]int {
	out := make(map[string]int, len(s.Lines))
	for _, l := range s.Lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func TestAddItem_SumsExistingLine(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 500), 2)
	require.NoError(t, err)
	snap, err := e.store.AddItem(ctx, "u1", item("A", 500), 3)
	require.NoError(t, err)

	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 5, snap.Lines[0].Quantity)
	assert.Equal(t, "seller-1", snap.Lines[0].SellerID)
	assert.Equal(t, models.CatalogGeneral, snap.Lines[0].Catalog)
	assert.Equal(t, int64(2), snap.Version)
}

func TestAddItem_RepeatedAddsMatchSingleAdd(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "split", item("A", 500), 2)
	require.NoError(t, err)
	split, err := e.store.AddItem(ctx, "split", item("A", 500), 3)
	require.NoError(t, err)

	single, err := e.store.AddItem(ctx, "single", item("A", 500), 5)
	require.NoError(t, err)

	assert.Equal(t, quantities(single), quantities(split))
	assert.True(t, single.Subtotal().Equal(split.Subtotal()))
}

func TestAddItem_LimitRejectsWholeAdd(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	before, err := e.store.AddItem(ctx, "u1", item("A", 100), 18)
	require.NoError(t, err)

	_, err = e.store.AddItem(ctx, "u1", item("B", 100), 3)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)

	after, err := e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, quantities(before), quantities(after))
	assert.Equal(t, before.Version, after.Version)

	_, err = e.store.AddItem(ctx, "u1", item("B", 100), 2)
	require.NoError(t, err)
}

func TestAddItem_Validation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "", item("A", 1), 1)
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)

	_, err = e.store.AddItem(ctx, "u1", item("A", 1), 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = e.store.AddItem(ctx, "u1", item("A", -1), 1)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = e.store.AddItem(ctx, "u1", item("", 1), 1)
	assert.Error(t, err)

	before, err := e.store.AddItem(ctx, "u1", item("A", 1), 1)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u1", item("B", 1), math.MaxInt)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)
	after, err := e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, quantities(before), quantities(after))
	assert.Equal(t, 1, after.TotalQuantity())
}

func TestAddItem_UnresolvedSellerStillAdds(t *testing.T) {
	e := setup(t)

	snap, err := e.store.AddItem(context.Background(), "u1", item("Z", 10), 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Empty(t, snap.Lines[0].SellerID)
}

func TestAddItem_CatalogDecidesSellerAndPrice(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	claimed := item("A", 1)
	claimed.SellerID = "seller-9"
	snap, err := e.store.AddItem(ctx, "u1", claimed, 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "seller-1", snap.Lines[0].SellerID)
	assert.True(t, snap.Lines[0].UnitPrice.Equal(decimal.NewFromInt(250)), snap.Lines[0].UnitPrice.String())

	unknown := item("Z", 10)
	unknown.SellerID = "seller-9"
	snap, err = e.store.AddItem(ctx, "u2", unknown, 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Empty(t, snap.Lines[0].SellerID)
}

func TestUpdateQuantity(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 100), 10)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u1", item("B", 100), 5)
	require.NoError(t, err)

	// own prior quantity does not count against the limit
	snap, err := e.store.UpdateQuantity(ctx, "u1", "A", 15)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 15, "B": 5}, quantities(snap))

	_, err = e.store.UpdateQuantity(ctx, "u1", "A", 16)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)

	_, err = e.store.UpdateQuantity(ctx, "u1", "A", math.MaxInt)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)
	snap, err = e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 15, "B": 5}, quantities(snap))

	_, err = e.store.UpdateQuantity(ctx, "u1", "missing", 1)
	assert.ErrorIs(t, err, models.ErrCartLineNotFound)

	snap, err = e.store.UpdateQuantity(ctx, "u1", "B", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 15}, quantities(snap))
}

func TestRemoveItem_Idempotent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 100), 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		snap, err := e.store.RemoveItem(ctx, "u1", "A")
		require.NoError(t, err)
		assert.Empty(t, snap.Lines)
	}
}

func TestClear(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 100), 1)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u1", item("B", 100), 1)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u2", item("A", 100), 1)
	require.NoError(t, err)

	snap, err := e.store.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)

	other, err := e.store.Snapshot(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, other.Lines, 1)
}

func TestRemoveLinesAndRestore(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 500), 2)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u1", item("B", 300), 1)
	require.NoError(t, err)

	removed, err := e.store.RemoveLines(ctx, "u1", []string{"A", "nope"})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "A", removed[0].ProductID)

	snap, err := e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"B": 1}, quantities(snap))

	require.NoError(t, e.store.Restore(ctx, "u1", removed))
	snap, err = e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, quantities(snap))
}

func TestRestore_KeepsLinesWhenCartFilledMeanwhile(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.store.AddItem(ctx, "u1", item("A", 500), 2)
	require.NoError(t, err)
	_, err = e.store.AddItem(ctx, "u1", item("B", 300), 1)
	require.NoError(t, err)

	removed, err := e.store.RemoveLines(ctx, "u1", []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, removed, 2)

	// another session fills the cart while checkout is in flight
	_, err = e.store.AddItem(ctx, "u1", item("C", 100), 18)
	require.NoError(t, err)

	require.NoError(t, e.store.Restore(ctx, "u1", removed))
	snap, err := e.store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 18}, quantities(snap))

	// over the limit: growing is refused, shrinking is not
	_, err = e.store.AddItem(ctx, "u1", item("D", 1), 1)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)
	_, err = e.store.UpdateQuantity(ctx, "u1", "C", 19)
	assert.ErrorIs(t, err, models.ErrCartLimitExceeded)
	snap, err = e.store.UpdateQuantity(ctx, "u1", "C", 10)
	require.NoError(t, err)
	assert.Equal(t, 13, snap.TotalQuantity())
}

func TestRandomSequences_NeverExceedLimit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	products := []string{"A", "B", "C", "D"}

	for i := 0; i < 300; i++ {
		before, err := e.store.Snapshot(ctx, "prop")
		require.NoError(t, err)

		id := products[rng.Intn(len(products))]
		qty := rng.Intn(12) - 2
		var opErr error
		switch rng.Intn(3) {
		case 0:
			if qty < 1 {
				qty = 1
			}
			_, opErr = e.store.AddItem(ctx, "prop", item(id, 10), qty)
		case 1:
			_, opErr = e.store.UpdateQuantity(ctx, "prop", id, qty)
		default:
			_, opErr = e.store.RemoveItem(ctx, "prop", id)
		}

		after, err := e.store.Snapshot(ctx, "prop")
		require.NoError(t, err)
		assert.LessOrEqual(t, after.TotalQuantity(), models.DefaultMaxCartQuantity)
		if opErr != nil {
			assert.Equal(t, quantities(before), quantities(after), "rejected op changed the cart")
			assert.Equal(t, before.Version, after.Version)
		}
	}
}

func TestConcurrentAdds_RespectLimit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_, err := e.store.AddItem(ctx, "busy", item("A", 1), 1)
				mu.Lock()
				if err == nil {
					accepted++
				} else {
					assert.ErrorIs(t, err, models.ErrCartLimitExceeded)
					rejected++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, err := e.store.Snapshot(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxCartQuantity, snap.TotalQuantity())
	assert.Equal(t, models.DefaultMaxCartQuantity, accepted)
	assert.Equal(t, 32-models.DefaultMaxCartQuantity, rejected)
}

func TestSubscribe_SeesChangesFromOtherSession(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	// a second store on the same Redis plays the other device
	otherDevice := cart.NewStore(e.repo, cart.Options{Publisher: e.notifier})

	got := make(chan models.CartSnapshot, 16)
	sub, err := e.store.Subscribe(ctx, "u1", func(s models.CartSnapshot) { got <- s })
	require.NoError(t, err)
	defer sub.Cancel()

	initial := waitFor(t, got)
	assert.Empty(t, initial.Lines)

	_, err = otherDevice.AddItem(ctx, "u1", item("A", 500), 2)
	require.NoError(t, err)

	s := waitFor(t, got)
	assert.Equal(t, map[string]int{"A": 2}, quantities(s))

	// other users' changes are not delivered
	_, err = otherDevice.AddItem(ctx, "u2", item("B", 1), 1)
	require.NoError(t, err)
	_, err = otherDevice.Clear(ctx, "u1")
	require.NoError(t, err)

	s = waitFor(t, got)
	assert.Equal(t, "u1", s.UserID)
	assert.Empty(t, s.Lines)

	require.NoError(t, sub.Cancel())
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription goroutine did not exit")
	}
}

func TestSubscribe_RequiresIdentity(t *testing.T) {
	e := setup(t)
	_, err := e.store.Subscribe(context.Background(), "", func(models.CartSnapshot) {})
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
}

func waitFor(t *testing.T, ch <-chan models.CartSnapshot) models.CartSnapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cart snapshot")
		return models.CartSnapshot{}
	}
}
