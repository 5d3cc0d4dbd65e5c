package order

import (
	"context"
	"fmt"

	"github.com/example/marketplace/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultHistoryLimit = 50
)

// HistoryReader reads back what an AuditLogger recorded.
type HistoryReader interface {
	History(ctx context.Context, orderID string, limit int64) ([]models.AuditEntry, error)
}

type Query struct {
	repo    Repository
	history HistoryReader
}

func NewQuery(repo Repository) *Query {
	return &Query{repo: repo}
}

// WithHistory enables History, reading the audit trail from h.
func (q *Query) WithHistory(h HistoryReader) *Query {
	q.history = h
	return q
}

// Get returns an order visible to actor: its buyer, its seller, or an admin.
func (q *Query) Get(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	if !actor.Authenticated() {
		return nil, models.ErrAuthenticationRequired
	}
	o, err := q.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != o.BuyerID && actor.UserID != o.SellerID {
		// Do not reveal that someone else's order exists.
		return nil, models.ErrOrderNotFound
	}
	return o, nil
}

// List pages through orders. Buyers see what they bought, sellers what they
// sold, and admins may filter freely.
func (q *Query) List(ctx context.Context, actor models.Actor, filter models.OrderFilter) ([]models.Order, int64, error) {
	if !actor.Authenticated() {
		return nil, 0, models.ErrAuthenticationRequired
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleSeller:
		filter.SellerID = actor.UserID
		filter.BuyerID = ""
	default:
		filter.BuyerID = actor.UserID
		filter.SellerID = ""
	}
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status filter %q", models.ErrInvalidArgument, filter.Status)
	}
	filter.Page, filter.PageSize = PageBounds(filter.Page, filter.PageSize)
	return q.repo.List(ctx, filter)
}

// History returns the audit trail of an order visible to actor, newest first.
// Without a HistoryReader the trail is empty.
func (q *Query) History(ctx context.Context, actor models.Actor, orderID string, limit int) ([]models.AuditEntry, error) {
	if _, err := q.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	if q.history == nil {
		return []models.AuditEntry{}, nil
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultHistoryLimit
	}
	return q.history.History(ctx, orderID, int64(limit))
}

// PageBounds clamps a requested page and page size to what List serves.
func PageBounds(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
