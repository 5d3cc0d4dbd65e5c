package order

import (
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

const (
	orderNumberPrefix = "ORD-"
	orderNumberLayout = "20060102150405.000"
	randomSuffixLen   = 8
)

// NewOrderNumber returns a human-readable order number such as
// ORD-20261018093015123-7Kq2mXz9. The suffix comes from a random UUID, so two
// placements in the same millisecond on different processes do not collide.
func NewOrderNumber(now time.Time) string {
	stamp := strings.Replace(now.UTC().Format(orderNumberLayout), ".", "", 1)
	suffix := shortuuid.New()
	if len(suffix) > randomSuffixLen {
		suffix = suffix[:randomSuffixLen]
	}
	return orderNumberPrefix + stamp + "-" + suffix
}
