package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/models"
	"go.uber.org/zap"
)

type StateMachineOptions struct {
	// RequirePaidForPrepaid blocks forward moves on non-COD orders until the
	// payment is recorded as PAID.
	RequirePaidForPrepaid bool
	Audit                 AuditLogger
	Logger                *zap.Logger
}

// StateMachine applies lifecycle transitions. Every write is a
// compare-and-set on the status read just before it.
type StateMachine struct {
	repo                  Repository
	audit                 AuditLogger
	logger                *zap.Logger
	requirePaidForPrepaid bool
	now                   func() time.Time
}

func NewStateMachine(repo Repository, opts StateMachineOptions) *StateMachine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &StateMachine{
		repo:                  repo,
		audit:                 opts.Audit,
		logger:                opts.Logger,
		requirePaidForPrepaid: opts.RequirePaidForPrepaid,
		now:                   time.Now,
	}
}

// Advance moves the order to the immediate successor of its status. Only the
// order's seller or an admin may do it, and COMPLETED is reached through
// MarkReceived only.
func (m *StateMachine) Advance(ctx context.Context, actor models.Actor, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !actor.Authenticated() {
		return nil, models.ErrAuthenticationRequired
	}
	if to == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: use cancel to cancel an order", models.ErrIllegalStateTransition)
	}
	if to == models.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: only the buyer completes an order", models.ErrIllegalStateTransition)
	}

	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != o.SellerID {
		return nil, models.ErrForbidden
	}
	if err := checkTransition(o.Status, to); err != nil {
		return nil, err
	}
	if m.requirePaidForPrepaid && o.PaymentMethod.Prepaid() && o.PaymentStatus != models.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: %s order awaits payment", models.ErrIllegalStateTransition, o.PaymentMethod)
	}

	now := m.now()
	changes := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to == models.OrderStatusDelivered {
		changes["delivered_at"] = now
	}
	if err := m.update(ctx, o, changes); err != nil {
		return nil, err
	}

	o.Status = to
	o.UpdatedAt = now
	if to == models.OrderStatusDelivered {
		o.DeliveredAt = &now
	}
	m.logger.Info("Order advanced",
		zap.String("order_id", o.ID),
		zap.String("status", string(to)),
		zap.String("actor", actor.UserID))
	m.record("advance", o.ID, actor.UserID, map[string]interface{}{"status": string(to)})
	return o, nil
}

// Cancel cancels an order that has not been delivered yet. The buyer, the
// seller or an admin may cancel.
func (m *StateMachine) Cancel(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error) {
	if !actor.Authenticated() {
		return nil, models.ErrAuthenticationRequired
	}

	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != o.BuyerID && actor.UserID != o.SellerID {
		return nil, models.ErrForbidden
	}
	if err := checkTransition(o.Status, models.OrderStatusCancelled); err != nil {
		return nil, err
	}

	now := m.now()
	changes := map[string]interface{}{
		"status":              models.OrderStatusCancelled,
		"cancelled_at":        now,
		"cancellation_reason": reason,
		"updated_at":          now,
	}
	if err := m.update(ctx, o, changes); err != nil {
		return nil, err
	}

	o.Status = models.OrderStatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.UpdatedAt = now
	m.logger.Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor", actor.UserID),
		zap.String("reason", reason))
	m.record("cancel", o.ID, actor.UserID, map[string]interface{}{"reason": reason})
	return o, nil
}

// MarkReceived completes a delivered order on behalf of its buyer.
func (m *StateMachine) MarkReceived(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	if !actor.Authenticated() {
		return nil, models.ErrAuthenticationRequired
	}

	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != o.BuyerID {
		return nil, models.ErrForbidden
	}
	if err := checkTransition(o.Status, models.OrderStatusCompleted); err != nil {
		return nil, err
	}

	now := m.now()
	changes := map[string]interface{}{
		"status":       models.OrderStatusCompleted,
		"completed_at": now,
		"updated_at":   now,
	}
	if err := m.update(ctx, o, changes); err != nil {
		return nil, err
	}

	o.Status = models.OrderStatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	m.logger.Info("Order received", zap.String("order_id", o.ID), zap.String("buyer_id", o.BuyerID))
	m.record("received", o.ID, actor.UserID, nil)
	return o, nil
}

// RecordPayment settles a pending payment as PAID or FAILED. Replaying the
// same outcome is a no-op so payment callbacks can be retried.
func (m *StateMachine) RecordPayment(ctx context.Context, orderID, reference string, status models.PaymentStatus) (*models.Order, error) {
	if status != models.PaymentStatusPaid && status != models.PaymentStatusFailed {
		return nil, fmt.Errorf("%w: payment cannot move to %q", models.ErrIllegalStateTransition, status)
	}

	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == status {
		return o, nil
	}
	if o.PaymentStatus != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment %s -> %s", models.ErrIllegalStateTransition, o.PaymentStatus, status)
	}
	if o.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is cancelled", models.ErrIllegalStateTransition)
	}

	now := m.now()
	changes := map[string]interface{}{
		"payment_status": status,
		"updated_at":     now,
	}
	if reference != "" {
		changes["payment_reference"] = reference
	}
	if status == models.PaymentStatusPaid {
		changes["paid_at"] = now
	}
	guard := models.OrderGuard{Status: o.Status, PaymentStatus: models.PaymentStatusPending}
	if err := m.compareAndUpdate(ctx, o.ID, guard, changes); err != nil {
		return nil, err
	}

	o.PaymentStatus = status
	o.UpdatedAt = now
	if reference != "" {
		o.PaymentReference = &reference
	}
	if status == models.PaymentStatusPaid {
		o.PaidAt = &now
	}
	m.logger.Info("Payment recorded",
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(status)),
		zap.String("reference", reference))
	m.record("payment", o.ID, "", map[string]interface{}{
		"payment_status": string(status),
		"reference":      reference,
	})
	return o, nil
}

func (m *StateMachine) update(ctx context.Context, o *models.Order, changes map[string]interface{}) error {
	return m.compareAndUpdate(ctx, o.ID, models.OrderGuard{Status: o.Status}, changes)
}

func (m *StateMachine) compareAndUpdate(ctx context.Context, orderID string, guard models.OrderGuard, changes map[string]interface{}) error {
	err := m.repo.CompareAndUpdate(ctx, orderID, guard, changes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrStaleOrder):
		return fmt.Errorf("%w: %w", models.ErrIllegalStateTransition, err)
	case errors.Is(err, models.ErrOrderNotFound):
		return err
	default:
		return models.Persistence("update order", err)
	}
}

func (m *StateMachine) record(action, orderID, actorID string, data map[string]interface{}) {
	if m.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
		defer cancel()
		if err := m.audit.Record(ctx, models.AuditEntry{
			Action:   action,
			EntityID: orderID,
			ActorID:  actorID,
			Data:     data,
		}); err != nil {
			m.logger.Warn("Failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}()
}
