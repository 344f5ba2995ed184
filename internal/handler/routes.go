package handler

import (
	"github.com/labstack/echo/v4"

	"dynhost/internal/stub"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, demo *DemoHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET(stub.MockServerPath, demo.MockServer)
	e.GET(stub.Test1Path, demo.Test1)
	e.GET("/test", demo.Test)
	e.GET("/test/concurrent", demo.Concurrent)
}
