package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/chatrelay/internal/platform/errors"
	"golang.org/x/time/rate"
)

const (
	identityChangeRate  = 1
	identityChangeBurst = 5
	clientBucketExpiry  = 5 * time.Minute
)

// identityChangeLimiter throttles identity mutations per client address.
// Every route wrapped by the returned middleware draws from the same
// bucket, so adding an account and switching to it cost one token each.
// Denials surface as structured rate_limited errors.
func identityChangeLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(ratePerSecond),
		Burst:     burst,
		ExpiresIn: clientBucketExpiry,
	})
	retryAfter := int(math.Ceil(1 / ratePerSecond))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return apperrors.RateLimitedError("too many identity changes").
				WithField("retry_after_seconds", retryAfter)
		},
		ErrorHandler: func(echo.Context, error) error {
			return apperrors.ValidationError("cannot identify client")
		},
	})
}
