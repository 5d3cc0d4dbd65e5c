// Package notify fans cart changes out to the sessions of one process. A single
// relay actor republishes every change on the actor system's event stream and
// each subscriber filters the stream down to its own user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/models"
	"go.uber.org/zap"
)

// CartChanged is published on the event stream for every cart snapshot.
type CartChanged struct {
	Snapshot models.CartSnapshot
}

// Source delivers cart changes made anywhere in the deployment, for example
// the Redis pattern subscription of repository.CartNotifier.
type Source interface {
	Listen(ctx context.Context, handle func(models.CartSnapshot)) error
}

type Hub struct {
	system *actor.ActorSystem
	logger *zap.Logger

	mu    sync.Mutex
	relay *actor.PID
}

func NewHub(system *actor.ActorSystem, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{system: system, logger: logger}
}

// Start spawns the relay actor. It must run before Publish.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.relay != nil {
		return nil
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return &relayActor{logger: h.logger.Named("cart-relay")}
	})
	pid, err := h.system.Root.SpawnNamed(props, "cart-relay")
	if err != nil {
		return fmt.Errorf("failed to spawn cart relay actor: %w", err)
	}
	h.relay = pid
	return nil
}

// Stop stops the relay actor and waits for it to finish.
func (h *Hub) Stop() {
	h.mu.Lock()
	pid := h.relay
	h.relay = nil
	h.mu.Unlock()
	if pid == nil {
		return
	}
	if err := h.system.Root.StopFuture(pid).Wait(); err != nil {
		h.logger.Warn("Cart relay actor did not stop cleanly", zap.Error(err))
	}
}

// Publish hands snap to the relay actor, which republishes it in order.
func (h *Hub) Publish(_ context.Context, snap models.CartSnapshot) error {
	h.mu.Lock()
	pid := h.relay
	h.mu.Unlock()
	if pid == nil {
		return errors.New("notify: hub not started")
	}
	h.system.Root.Send(pid, &CartChanged{Snapshot: snap})
	return nil
}

// Subscribe returns a feed of userID's cart changes. Closing the feed
// unsubscribes from the event stream.
func (h *Hub) Subscribe(_ context.Context, userID string) (*cart.Feed, error) {
	var sub *eventstream.Subscription
	feed := cart.NewFeed(func() error {
		h.system.EventStream.Unsubscribe(sub)
		return nil
	})
	sub = h.system.EventStream.SubscribeWithPredicate(
		func(evt interface{}) {
			feed.Offer(evt.(*CartChanged).Snapshot)
		},
		func(evt interface{}) bool {
			msg, ok := evt.(*CartChanged)
			return ok && msg.Snapshot.UserID == userID
		},
	)
	return feed, nil
}

const (
	pumpMinBackoff = 100 * time.Millisecond
	pumpMaxBackoff = 5 * time.Second
)

// Pump feeds every change from src into the hub until ctx is done. When the
// subscription fails or ends it is opened again, backing off exponentially
// up to pumpMaxBackoff. Pump only returns ctx's error.
func (h *Hub) Pump(ctx context.Context, src Source) error {
	return h.pump(ctx, src, pumpMinBackoff, pumpMaxBackoff)
}

func (h *Hub) pump(ctx context.Context, src Source, minBackoff, maxBackoff time.Duration) error {
	handle := func(snap models.CartSnapshot) {
		if err := h.Publish(ctx, snap); err != nil {
			h.logger.Warn("Dropping cart change", zap.String("user_id", snap.UserID), zap.Error(err))
		}
	}

	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := src.Listen(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// a subscription that stayed up for a while starts over from the short delay
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		h.logger.Warn("Cart change subscription lost, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type relayActor struct {
	logger    *zap.Logger
	delivered int64
}

func (a *relayActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *CartChanged:
		a.delivered++
		ctx.ActorSystem().EventStream.Publish(msg)

	case *actor.Started:
		a.logger.Info("Cart relay actor started")

	case *actor.Stopped:
		a.logger.Info("Cart relay actor stopped", zap.Int64("delivered", a.delivered))
	}
}
