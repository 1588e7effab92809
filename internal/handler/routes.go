// Package handler exposes the gateway over HTTP with echo.
package handler

import (
	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/routes"
	"forward-proxy-go/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, table *routes.Table) {
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	e.Any(service.PathProxy, proxy.Handle)
	e.Any(service.PathAuthProxy, proxy.Handle)

	for _, prefix := range table.Prefixes() {
		e.Any(prefix, proxy.Handle)
		e.Any(prefix+"/*", proxy.Handle)
	}

	e.RouteNotFound("/*", proxy.NotFound)
}
