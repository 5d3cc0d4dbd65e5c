// Package cart owns the authenticated cart of every user: add, remove, update,
// clear, snapshot and a live change feed shared by all of a user's sessions.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Repository persists cart lines. Mutate must apply fn atomically for the user:
// either every change fn made is stored, or, when fn or storage fails, none is.
// Each successful Mutate bumps the snapshot version.
type Repository interface {
	Load(ctx context.Context, userID string) (models.CartSnapshot, error)
	Mutate(ctx context.Context, userID string, fn models.CartMutation) (models.CartSnapshot, error)
}

// SellerResolver attributes a product to its seller.
type SellerResolver interface {
	ResolveSeller(ctx context.Context, ref models.ProductRef) (catalog.Resolution, error)
}

// Item is what a caller puts into the cart.
type Item struct {
	Ref       models.ProductRef
	Name      string
	Image     string
	UnitPrice decimal.Decimal
	SellerID  string
}

type Options struct {
	MaxQuantity int
	Resolver    SellerResolver
	Publisher   Publisher
	Subscriber  Subscriber
	Logger      *zap.Logger
}

type Store struct {
	repo        Repository
	resolver    SellerResolver
	publisher   Publisher
	subscriber  Subscriber
	maxQuantity int
	logger      *zap.Logger
	now         func() time.Time
}

func NewStore(repo Repository, opts Options) *Store {
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = models.DefaultMaxCartQuantity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		repo:        repo,
		resolver:    opts.Resolver,
		publisher:   opts.Publisher,
		subscriber:  opts.Subscriber,
		maxQuantity: opts.MaxQuantity,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

func (s *Store) MaxQuantity() int {
	return s.maxQuantity
}

// AddItem adds quantity units of item, summing into an existing line for the
// same product. The whole add is rejected if the cart would exceed the limit.
func (s *Store) AddItem(ctx context.Context, userID string, item Item, quantity int) (models.CartSnapshot, error) {
	if err := requireUser(userID); err != nil {
		return models.CartSnapshot{}, err
	}
	if quantity < 1 {
		return models.CartSnapshot{}, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}
	if strings.TrimSpace(item.Ref.ID) == "" {
		return models.CartSnapshot{}, fmt.Errorf("%w: missing product id", models.ErrProductNotFound)
	}
	if item.UnitPrice.IsNegative() {
		return models.CartSnapshot{}, fmt.Errorf("%w: unit price %s", models.ErrInvalidAmount, item.UnitPrice)
	}

	item = s.attribute(ctx, item)
	now := s.now()

	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		if total := totalQuantity(lines); quantity > s.maxQuantity-total {
			return fmt.Errorf("%w: %d in cart, adding %d, limit %d",
				models.ErrCartLimitExceeded, total, quantity, s.maxQuantity)
		}
		if line, ok := lines[item.Ref.ID]; ok {
			line.Quantity += quantity
			if line.SellerID == "" {
				line.SellerID = item.SellerID
			}
			if line.Catalog == "" {
				line.Catalog = item.Ref.Catalog
			}
			return nil
		}
		lines[item.Ref.ID] = &models.CartLine{
			UserID:    userID,
			ProductID: item.Ref.ID,
			Catalog:   item.Ref.Catalog,
			Name:      item.Name,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  quantity,
			SellerID:  item.SellerID,
			AddedAt:   now,
		}
		return nil
	})
	if err != nil {
		return models.CartSnapshot{}, err
	}

	s.logger.Debug("Cart item added",
		zap.String("user_id", userID),
		zap.String("product_id", item.Ref.ID),
		zap.Int("quantity", quantity),
		zap.Int64("version", snap.Version))
	s.publish(ctx, snap)
	return snap, nil
}

// RemoveItem deletes the line for productID. Removing an absent line is a no-op.
func (s *Store) RemoveItem(ctx context.Context, userID, productID string) (models.CartSnapshot, error) {
	if err := requireUser(userID); err != nil {
		return models.CartSnapshot{}, err
	}

	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		delete(lines, productID)
		return nil
	})
	if err != nil {
		return models.CartSnapshot{}, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// UpdateQuantity replaces the quantity of an existing line. A quantity of zero
// or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (models.CartSnapshot, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if err := requireUser(userID); err != nil {
		return models.CartSnapshot{}, err
	}

	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		line, ok := lines[productID]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrCartLineNotFound, productID)
		}
		others := totalQuantity(lines) - line.Quantity
		// lowering a line is always allowed, even on a cart left over the limit by Restore
		if quantity > line.Quantity && quantity > s.maxQuantity-others {
			return fmt.Errorf("%w: %d in other lines, setting %d, limit %d",
				models.ErrCartLimitExceeded, others, quantity, s.maxQuantity)
		}
		line.Quantity = quantity
		return nil
	})
	if err != nil {
		return models.CartSnapshot{}, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// Clear empties the user's cart.
func (s *Store) Clear(ctx context.Context, userID string) (models.CartSnapshot, error) {
	if err := requireUser(userID); err != nil {
		return models.CartSnapshot{}, err
	}

	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		for id := range lines {
			delete(lines, id)
		}
		return nil
	})
	if err != nil {
		return models.CartSnapshot{}, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

func (s *Store) Snapshot(ctx context.Context, userID string) (models.CartSnapshot, error) {
	if err := requireUser(userID); err != nil {
		return models.CartSnapshot{}, err
	}
	return s.repo.Load(ctx, userID)
}

// RemoveLines removes exactly the given products in one atomic step and returns
// the lines that were removed.
func (s *Store) RemoveLines(ctx context.Context, userID string, productIDs []string) ([]models.CartLine, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	var removed []models.CartLine
	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		removed = removed[:0]
		for _, id := range productIDs {
			if line, ok := lines[id]; ok {
				removed = append(removed, *line)
				delete(lines, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return removed, nil
}

// Restore puts previously removed lines back, summing with any line added for
// the same product in the meantime. The lines were already in the cart, so the
// limit is not applied again: a cart left over the limit by a concurrent add
// rejects further adds until the buyer trims it.
func (s *Store) Restore(ctx context.Context, userID string, restored []models.CartLine) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if len(restored) == 0 {
		return nil
	}

	snap, err := s.repo.Mutate(ctx, userID, func(lines map[string]*models.CartLine) error {
		for _, l := range restored {
			if existing, ok := lines[l.ProductID]; ok {
				existing.Quantity += l.Quantity
				continue
			}
			line := l
			line.UserID = userID
			lines[l.ProductID] = &line
		}
		return nil
	})
	if err != nil {
		return err
	}
	if total := snap.TotalQuantity(); total > s.maxQuantity {
		s.logger.Warn("Restored cart is over the limit",
			zap.String("user_id", userID),
			zap.Int("total", total),
			zap.Int("limit", s.maxQuantity))
	}
	s.publish(ctx, snap)
	return nil
}

// Subscribe calls fn with the user's current cart right away and again after
// every change, whichever session or process made it. fn runs on a dedicated
// goroutine; it must not call Cancel on its own subscription synchronously.
func (s *Store) Subscribe(ctx context.Context, userID string, fn func(models.CartSnapshot)) (*Subscription, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.subscriber == nil {
		return nil, errors.New("cart: change feed not configured")
	}

	feed, err := s.subscriber.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.Load(ctx, userID)
	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	feed.Offer(current)

	sub := &Subscription{feed: feed, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for snap := range feed.Updates() {
			fn(snap)
		}
	}()
	return sub, nil
}

// Subscription is the caller-held handle returned by Subscribe.
type Subscription struct {
	feed *Feed
	done chan struct{}
}

// Cancel stops deliveries. Pending snapshots may still be delivered before Done
// is closed.
func (s *Subscription) Cancel() error {
	return s.feed.Close()
}

// Done is closed once the callback goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// attribute checks the item against its catalog. A resolved product supplies
// the seller, catalog and price; a seller the catalog cannot confirm is
// dropped. An unresolved seller is fine at this point, the order assembler
// decides what to do with it.
func (s *Store) attribute(ctx context.Context, item Item) Item {
	if s.resolver == nil {
		return item
	}

	res, err := s.resolver.ResolveSeller(ctx, item.Ref)
	if err != nil {
		if !errors.Is(err, models.ErrSellerUnresolved) {
			s.logger.Warn("Seller attribution failed",
				zap.String("product_id", item.Ref.ID),
				zap.Error(err))
		}
		item.SellerID = ""
		return item
	}

	if item.SellerID != "" && item.SellerID != res.SellerID {
		s.logger.Debug("Replacing client seller with catalog seller",
			zap.String("product_id", item.Ref.ID),
			zap.String("client_seller", item.SellerID),
			zap.String("seller", res.SellerID))
	}
	item.SellerID = res.SellerID
	item.Ref = res.Ref
	if res.Product != nil {
		item.UnitPrice = res.Product.Price
		if item.Name == "" {
			item.Name = res.Product.Name
		}
		if item.Image == "" {
			item.Image = res.Product.Image
		}
	}
	return item
}

func (s *Store) publish(ctx context.Context, snap models.CartSnapshot) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pctx, snap); err != nil {
		s.logger.Warn("Failed to publish cart change",
			zap.String("user_id", snap.UserID),
			zap.Int64("version", snap.Version),
			zap.Error(err))
	}
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrAuthenticationRequired
	}
	return nil
}

func totalQuantity(lines map[string]*models.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
