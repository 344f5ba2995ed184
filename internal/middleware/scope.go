package middleware

import (
	"github.com/labstack/echo/v4"

	"dynhost/internal/hostctx"
)

// OverrideScope gives every request its own endpoint override slot and
// clears it when the handler returns, so an override set while serving one
// request never outlives it.
func OverrideScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := hostctx.NewContext(req.Context())
			defer hostctx.Remove(ctx)

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
