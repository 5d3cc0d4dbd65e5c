package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/marketplace/pkg/grpc"
	"github.com/example/marketplace/pkg/models"
	"github.com/gin-gonic/gin"
)

var httpStatuses = []struct {
	err    error
	status int
}{
	{models.ErrAuthenticationRequired, http.StatusUnauthorized},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrEmptyOrder, http.StatusBadRequest},
	{models.ErrUnsupportedPaymentMethod, http.StatusBadRequest},
	{models.ErrInvalidQuantity, http.StatusBadRequest},
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrInvalidArgument, http.StatusBadRequest},
	{models.ErrCartLimitExceeded, http.StatusUnprocessableEntity},
	{models.ErrSellerUnresolved, http.StatusUnprocessableEntity},
	{models.ErrIllegalStateTransition, http.StatusConflict},
	{models.ErrCartChanged, http.StatusConflict},
	{models.ErrStaleOrder, http.StatusConflict},
	{models.ErrOrderNotFound, http.StatusNotFound},
	{models.ErrProductNotFound, http.StatusNotFound},
	{models.ErrCartLineNotFound, http.StatusNotFound},
	{models.ErrResolutionTimeout, http.StatusGatewayTimeout},
	{models.ErrPersistenceFailure, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

func httpStatus(err error) int {
	for _, m := range httpStatuses {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeError aborts the request with the status mapped from err and a body of
// {"error": message, "code": reason}.
func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), gin.H{
		"error": err.Error(),
		"code":  grpc.Reason(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"code":  "INVALID_REQUEST",
	})
}
