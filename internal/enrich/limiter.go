package enrich

import (
	"time"

	"golang.org/x/time/rate"
)

// NewLimiter spaces rating requests at least interval apart across every
// caller sharing it. A burst of one means no two requests go out within the
// same interval. A non-positive interval returns nil, which disables pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
