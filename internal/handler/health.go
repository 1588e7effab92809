package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/routes"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	table   *routes.Table
	version Version
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler. Uptime is measured from this call.
func NewHealthHandler(table *routes.Table, v Version) *HealthHandler {
	return &HealthHandler{table: table, version: v, started: time.Now(), now: time.Now}
}

// Health returns status, current time and process uptime in seconds.
func (h *HealthHandler) Health(c echo.Context) error {
	now := h.now()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(h.started).Seconds(),
	})
}

type routeStatus struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Target string `json:"target"`
}

// Status returns build and route table information.
func (h *HealthHandler) Status(c echo.Context) error {
	rs := h.table.Routes()
	out := make([]routeStatus, len(rs))
	for i, r := range rs {
		out[i] = routeStatus{Name: r.Name, Prefix: r.Prefix, Target: r.Target}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"uptime":  h.now().Sub(h.started).Seconds(),
		"routes":  out,
	})
}
