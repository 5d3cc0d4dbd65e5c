package order

import (
	"fmt"

	"github.com/example/marketplace/pkg/models"
)

// forwardPath is the delivery lifecycle in order. Every forward move goes to
// the next entry; nothing is skipped.
var forwardPath = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusProcessing,
	models.OrderStatusShipped,
	models.OrderStatusInTransit,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
	models.OrderStatusCompleted,
}

var cancellableStatuses = map[models.OrderStatus]bool{
	models.OrderStatusPending:        true,
	models.OrderStatusConfirmed:      true,
	models.OrderStatusProcessing:     true,
	models.OrderStatusShipped:        true,
	models.OrderStatusInTransit:      true,
	models.OrderStatusOutForDelivery: true,
}

func position(s models.OrderStatus) int {
	for i, p := range forwardPath {
		if p == s {
			return i
		}
	}
	return -1
}

// Next returns the status that directly follows s, if any.
func Next(s models.OrderStatus) (models.OrderStatus, bool) {
	i := position(s)
	if i < 0 || i == len(forwardPath)-1 {
		return "", false
	}
	return forwardPath[i+1], true
}

func Cancellable(s models.OrderStatus) bool {
	return cancellableStatuses[s]
}

func Terminal(s models.OrderStatus) bool {
	return s == models.OrderStatusCompleted || s == models.OrderStatusCancelled
}

func ValidStatus(s models.OrderStatus) bool {
	return s == models.OrderStatusCancelled || position(s) >= 0
}

// CanTransition reports whether from -> to is a legal move in the lifecycle.
// It does not look at who is asking or at payment.
func CanTransition(from, to models.OrderStatus) bool {
	if to == models.OrderStatusCancelled {
		return Cancellable(from)
	}
	next, ok := Next(from)
	return ok && next == to
}

func checkTransition(from, to models.OrderStatus) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", models.ErrIllegalStateTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalStateTransition, from, to)
	}
	return nil
}
