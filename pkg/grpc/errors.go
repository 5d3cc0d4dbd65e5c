package grpc

import (
	"context"
	"errors"

	"github.com/example/marketplace/pkg/models"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errorDomain = "marketplace"

type errorMapping struct {
	err    error
	code   codes.Code
	reason string
}

// errorTable is matched in order; earlier entries win when an error wraps
// several sentinels.
var errorTable = []errorMapping{
	{models.ErrAuthenticationRequired, codes.Unauthenticated, "AUTHENTICATION_REQUIRED"},
	{models.ErrForbidden, codes.PermissionDenied, "FORBIDDEN"},
	{models.ErrEmptyOrder, codes.InvalidArgument, "EMPTY_ORDER"},
	{models.ErrUnsupportedPaymentMethod, codes.InvalidArgument, "UNSUPPORTED_PAYMENT_METHOD"},
	{models.ErrInvalidQuantity, codes.InvalidArgument, "INVALID_QUANTITY"},
	{models.ErrInvalidAmount, codes.InvalidArgument, "INVALID_AMOUNT"},
	{models.ErrInvalidArgument, codes.InvalidArgument, "INVALID_ARGUMENT"},
	{models.ErrCartLimitExceeded, codes.FailedPrecondition, "CART_LIMIT_EXCEEDED"},
	{models.ErrSellerUnresolved, codes.FailedPrecondition, "SELLER_UNRESOLVED"},
	{models.ErrIllegalStateTransition, codes.FailedPrecondition, "ILLEGAL_STATE_TRANSITION"},
	{models.ErrCartChanged, codes.Aborted, "CART_CHANGED"},
	{models.ErrStaleOrder, codes.Aborted, "STALE_ORDER"},
	{models.ErrOrderNotFound, codes.NotFound, "ORDER_NOT_FOUND"},
	{models.ErrProductNotFound, codes.NotFound, "PRODUCT_NOT_FOUND"},
	{models.ErrCartLineNotFound, codes.NotFound, "CART_LINE_NOT_FOUND"},
	{models.ErrResolutionTimeout, codes.DeadlineExceeded, "RESOLUTION_TIMEOUT"},
	{models.ErrPersistenceFailure, codes.Unavailable, "PERSISTENCE_FAILURE"},
}

// Reason returns the stable machine-readable code for err, or "INTERNAL".
func Reason(err error) string {
	if m, ok := lookup(err); ok {
		return m.reason
	}
	return "INTERNAL"
}

func lookup(err error) (errorMapping, bool) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// toStatus converts a domain error into a gRPC status error carrying an
// ErrorInfo detail, so the client can restore the sentinel.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	m, ok := lookup(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	st, detailErr := status.New(m.code, err.Error()).WithDetails(&errdetails.ErrorInfo{
		Reason: m.reason,
		Domain: errorDomain,
	})
	if detailErr != nil {
		return status.Error(m.code, err.Error())
	}
	return st.Err()
}

// remoteError keeps the server's message while matching the sentinel it was
// raised with.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// fromStatus maps a gRPC error back to a domain error when the server attached
// a known reason. Anything else is returned as is.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		for _, m := range errorTable {
			if m.reason == info.GetReason() {
				return &remoteError{sentinel: m.err, msg: st.Message()}
			}
		}
	}
	if st.Code() == codes.Unavailable {
		return models.Persistence("order service", err)
	}
	return err
}
