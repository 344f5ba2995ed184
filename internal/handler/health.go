package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dynhost/internal/command"
	"dynhost/internal/discovery"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	registry *discovery.Registry
	plugins  *command.Plugins
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(registry *discovery.Registry, plugins *command.Plugins, v Version) *HealthHandler {
	return &HealthHandler{registry: registry, plugins: plugins, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Services []string `json:"services"`
	Wrappers []string `json:"command_wrappers"`
}

// Status reports the build version, the known services and the command
// wrappers in effect.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:   "ok",
		Version:  string(h.version),
		Services: h.registry.Services(),
		Wrappers: h.plugins.Wrappers(),
	})
}
