package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/body"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/routes"
	"forward-proxy-go/internal/service"
)

// hopByHopResponseHeaders are not relayed from the upstream response.
var hopByHopResponseHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ProxyHandler adapts inbound echo requests to the dispatcher and relays
// the upstream response.
type ProxyHandler struct {
	dispatcher *service.Dispatcher
	table      *routes.Table
	logger     *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(d *service.Dispatcher, table *routes.Table, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		dispatcher: d,
		table:      table,
		logger:     logger.With("component", "proxy_handler"),
	}
}

// Handle dispatches the request and streams the upstream response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	in, err := h.incoming(c)
	if err != nil {
		return err
	}

	resp, err := h.dispatcher.Dispatch(c.Request().Context(), in)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if hopByHopResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a failed copy leaves the caller with a
	// truncated body under the upstream status.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", service.Sanitize(err.Error()),
			"path", in.Path,
		)
	}

	return nil
}

// NotFound answers paths that select no mode.
func (h *ProxyHandler) NotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]any{
		"error":           "Route not found",
		"availableRoutes": AvailableRoutes(h.table),
	})
}

// incoming reads and classifies the inbound request.
func (h *ProxyHandler) incoming(c echo.Context) (*model.IncomingRequest, error) {
	req := c.Request()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversize bodies as an *echo.HTTPError.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body").SetInternal(err)
	}

	contentType := req.Header.Get(echo.HeaderContentType)
	b, err := body.Classify(contentType, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body could not be parsed").SetInternal(err)
	}

	query := make(map[string]string)
	for k, vals := range req.URL.Query() {
		if len(vals) > 0 {
			query[k] = vals[len(vals)-1]
		}
	}

	return &model.IncomingRequest{
		Method:      req.Method,
		Path:        req.URL.EscapedPath(),
		RawQuery:    req.URL.RawQuery,
		Query:       query,
		Header:      req.Header,
		ContentType: contentType,
		Body:        b,
		Length:      int64(len(raw)),
		RequestID:   c.Response().Header().Get(echo.HeaderXRequestID),
	}, nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrNoRoute) {
		return h.NotFound(c)
	}

	var pe *model.ProxyError
	if !errors.As(err, &pe) {
		pe = model.NewError(model.KindInternal, "", err)
	}

	payload := map[string]string{"error": pe.Title()}
	switch {
	case pe.Kind == model.KindInternal:
		if pe.Err != nil {
			payload["message"] = service.Sanitize(rootMessage(pe.Err))
		}
	case pe.Message != "":
		payload["message"] = pe.Message
	}
	if pe.Route != "" {
		payload["route"] = pe.Route
	}

	return c.JSON(pe.Status(), payload)
}

// AvailableRoutes lists the endpoints a caller can use.
func AvailableRoutes(table *routes.Table) []string {
	out := []string{"GET /health", "ANY /proxy?target=<url>", "ANY /auth-proxy?target=<url>&token=<token>"}
	for _, r := range table.Routes() {
		out = append(out, "ANY "+r.Prefix+"/*")
	}
	return out
}

// rootMessage returns the innermost error message, without wrapping context.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
