package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. Handlers run
// on the request goroutine and observe the context themselves: validation and
// generation stop at the next record and return the context error. An
// unmapped deadline error becomes 504 and an unmapped cancellation 503.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil || c.Response().Committed {
				return err
			}
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return err
			}
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return echo.NewHTTPError(http.StatusGatewayTimeout,
					"request processing exceeded the allowed time limit").SetInternal(err)
			case errors.Is(err, context.Canceled):
				return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled").SetInternal(err)
			}
			return err
		}
	}
}
