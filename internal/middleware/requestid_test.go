package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_Generated(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())

	var seen string
	e.GET("/test", func(c echo.Context) error {
		seen = c.Request().Header.Get(echo.HeaderXRequestID)
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	id := rec.Header().Get(echo.HeaderXRequestID)
	_, err := uuid.Parse(id)
	require.NoError(t, err, "X-Request-ID %q is not a UUID", id)
	assert.Equal(t, id, seen, "inbound X-Request-ID")
}

func TestRequestID_Preserved(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set(echo.HeaderXRequestID, "caller-id")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "caller-id", rec.Header().Get(echo.HeaderXRequestID))
}
