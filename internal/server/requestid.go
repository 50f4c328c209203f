package server

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatgate/internal/core"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = echo.HeaderXRequestID

// RequestID keeps a client supplied X-Request-ID or generates a UUID, echoes
// it on the response and stores it on the request context for core.LoggerFrom.
func RequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: RequestIDHeader,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}
