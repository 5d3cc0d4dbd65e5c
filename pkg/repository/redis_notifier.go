package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CartNotifier fans cart snapshots out over Redis pub/sub so that sessions on
// other processes see every change. One channel per user.
type CartNotifier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewCartNotifier(repo *RedisRepository, logger *zap.Logger) *CartNotifier {
	prefix := repo.config.ChangeChannelPrefix
	if prefix == "" {
		prefix = "cart:changes:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartNotifier{
		client: repo.client,
		prefix: prefix,
		logger: logger,
	}
}

func (n *CartNotifier) Publish(ctx context.Context, snap models.CartSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot failed: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(snap.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated Redis subscription for one user.
func (n *CartNotifier) Subscribe(ctx context.Context, userID string) (*cart.Feed, error) {
	ps := n.client.Subscribe(ctx, n.channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, models.Persistence("subscribe cart changes", err)
	}

	feed := cart.NewFeed(ps.Close)
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			snap, err := n.decode(msg.Payload)
			if err != nil {
				n.logger.Warn("Dropping malformed cart change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			feed.Offer(snap)
		}
	}()
	return feed, nil
}

// Listen pattern-subscribes to every user's channel and hands each snapshot to
// handle until ctx is done. It is the single upstream feeding an in-process hub.
func (n *CartNotifier) Listen(ctx context.Context, handle func(models.CartSnapshot)) error {
	ps := n.client.PSubscribe(ctx, n.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe failed: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			snap, err := n.decode(msg.Payload)
			if err != nil {
				n.logger.Warn("Dropping malformed cart change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if snap.UserID == "" {
				snap.UserID = strings.TrimPrefix(msg.Channel, n.prefix)
			}
			handle(snap)
		}
	}
}

func (n *CartNotifier) channel(userID string) string {
	return n.prefix + userID
}

func (n *CartNotifier) decode(payload string) (models.CartSnapshot, error) {
	var snap models.CartSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return models.CartSnapshot{}, err
	}
	return snap, nil
}
