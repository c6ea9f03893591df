package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const codeTimeout = "REQUEST_Timeout"

// RequestTimeout puts a deadline on the request context. Aggregation queries
// running under it are cancelled at the deadline and the client receives
// 504 once the handler has returned. Paths starting with any of skip are
// left untouched.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range skip {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}

			// echo recycles c once this returns, so the handler must finish
			// first. Queries on ctx are already cancelled.
			err := <-done
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ctx.Err()
			}
			if c.Response().Committed {
				return err
			}
			return abort(http.StatusGatewayTimeout, codeTimeout, "request exceeded "+timeout.String())
		}
	}
}
