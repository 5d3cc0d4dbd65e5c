package cart

import (
	"context"
	"sync"

	"github.com/example/marketplace/pkg/models"
)

// Publisher announces a user's new cart state to every interested session.
type Publisher interface {
	Publish(ctx context.Context, snapshot models.CartSnapshot) error
}

// Subscriber opens a feed of snapshots for one user.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (*Feed, error)
}

// Feed delivers cart snapshots to a single listener. It holds at most one
// pending snapshot: a newer one replaces an undelivered older one, and snapshots
// whose version is not newer than the last accepted are dropped. Listeners
// therefore always converge on the latest state even when deliveries repeat.
type Feed struct {
	ch      chan models.CartSnapshot
	release func() error

	mu      sync.Mutex
	closed  bool
	version int64
	seen    bool
}

// NewFeed returns an open feed. release, if set, runs once on Close.
func NewFeed(release func() error) *Feed {
	return &Feed{
		ch:      make(chan models.CartSnapshot, 1),
		release: release,
	}
}

// Offer hands a snapshot to the feed without blocking.
func (f *Feed) Offer(s models.CartSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if f.seen && s.Version <= f.version {
		return
	}
	f.seen = true
	f.version = s.Version

	select {
	case f.ch <- s:
		return
	default:
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
}

func (f *Feed) Updates() <-chan models.CartSnapshot {
	return f.ch
}

// Close stops delivery and releases the underlying subscription. It is safe to
// call more than once.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()

	if f.release != nil {
		return f.release()
	}
	return nil
}
