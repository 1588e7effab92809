package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/service"
)

// ErrorHandler replaces echo's default error handler so that every error
// response is a JSON object carrying an "error" key. Non-HTTP errors
// (including recovered panics) become a generic 500.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		payload := map[string]string{"error": "Internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			payload["error"] = http.StatusText(status)
			if msg := fmt.Sprint(he.Message); msg != "" && msg != payload["error"] {
				payload["message"] = msg
			}
		} else {
			payload["message"] = service.Sanitize(rootMessage(err))
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, payload)
		}
		if err != nil {
			logger.Error("writing error response", "err", err)
		}
	}
}
