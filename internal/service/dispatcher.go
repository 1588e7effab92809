// Package service implements per-request dispatch: mode selection, target
// resolution, header and body translation, and the upstream call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"forward-proxy-go/internal/body"
	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/headers"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/routes"
	"forward-proxy-go/internal/target"
)

// Paths of the dynamic endpoints.
const (
	PathProxy     = "/proxy"
	PathAuthProxy = "/auth-proxy"
)

// ErrNoRoute is returned when the path selects no mode.
var ErrNoRoute = errors.New("no route matches path")

// Credential patterns redacted from URLs and error messages: query values
// such as token= and userinfo passwords.
var (
	secretPattern   = regexp.MustCompile(`(?i)((?:token|access_token|api_?key|key|signature)=)[^&\s"]+`)
	userinfoPattern = regexp.MustCompile(`(://[^/\s:@"]+:)[^@\s/"]+@`)
)

// State is a step of the per-request dispatch state machine.
type State string

const (
	StateResolving  State = "resolving"
	StateEncoding   State = "encoding"
	StateForwarding State = "forwarding"
	StateRelaying   State = "relaying"
)

// Forwarder performs the outbound call.
type Forwarder interface {
	Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error)
}

// Dispatcher orchestrates one inbound request through resolve, encode and
// forward. It holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	table     *routes.Table
	forwarder Forwarder
	cfg       config.ProxyConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. The metrics parameter is optional.
func NewDispatcher(table *routes.Table, fwd Forwarder, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	pc := cfg.Proxy
	if pc.TargetParam == "" {
		pc.TargetParam = "target"
	}
	if pc.TokenParam == "" {
		pc.TokenParam = "token"
	}
	return &Dispatcher{
		table:     table,
		forwarder: fwd,
		cfg:       pc,
		logger:    logger.With("component", "dispatcher"),
		metrics:   m,
	}
}

// Plan is the outcome of the resolving and encoding states.
type Plan struct {
	Mode     model.Mode
	Route    string
	Target   model.ResolvedTarget
	Outbound *model.OutboundRequest
}

// Select picks the mode for path. The returned match is only set for
// ModeRouteTable.
func (d *Dispatcher) Select(path string) (model.Mode, routes.Match, bool) {
	switch path {
	case PathProxy:
		return model.ModeGeneric, routes.Match{}, true
	case PathAuthProxy:
		return model.ModeAuthenticated, routes.Match{}, true
	}
	if m, ok := d.table.Match(path); ok {
		return model.ModeRouteTable, m, true
	}
	return 0, routes.Match{}, false
}

// Plan runs the resolving and encoding states without performing I/O.
func (d *Dispatcher) Plan(in *model.IncomingRequest) (*Plan, error) {
	plan, err := d.resolve(in)
	if err != nil {
		return nil, err
	}
	if err := d.encode(in, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// resolve selects the mode and validates the destination.
func (d *Dispatcher) resolve(in *model.IncomingRequest) (*Plan, error) {
	mode, match, ok := d.Select(in.Path)
	if !ok {
		return nil, ErrNoRoute
	}
	plan := &Plan{Mode: mode, Route: match.Route.Name}

	var err error
	if mode == model.ModeRouteTable {
		plan.Target, err = target.Join(match.Route.Target, match.Path, in.RawQuery)
		if err != nil {
			return plan, asProxyError(err, model.KindInternal).WithRoute(match.Route.Name)
		}
		return plan, nil
	}

	plan.Target, err = target.Resolve(in.QueryValue(d.cfg.TargetParam))
	if err != nil {
		return plan, err
	}
	return plan, nil
}

// encode builds the outbound request for a resolved plan.
func (d *Dispatcher) encode(in *model.IncomingRequest, plan *Plan) error {
	var token string
	if plan.Mode == model.ModeAuthenticated {
		token = in.QueryValue(d.cfg.TokenParam)
	}

	hdr := headers.Build(in.Header, plan.Mode, token)
	headers.ApplyUserinfo(hdr, plan.Target.User)
	enc, hasBody, err := body.Encode(in.Method, in.Body)
	if err != nil {
		pe := model.NewError(model.KindInternal, "encode request body", err)
		if plan.Route != "" {
			pe = pe.WithRoute(plan.Route)
		}
		return pe
	}

	out := &model.OutboundRequest{
		Method: in.Method,
		URL:    plan.Target.URL(),
		Host:   plan.Target.Host,
		Header: hdr,
	}
	if hasBody {
		out.Body = enc.Bytes
		out.ContentType = enc.ContentType
		hdr.Set("Content-Type", enc.ContentType)
		hdr.Set("Content-Length", strconv.FormatInt(enc.Len(), 10))
	}
	plan.Outbound = out
	return nil
}

// Dispatch resolves, encodes and forwards in. On success the caller owns
// the response body. Failures are *model.ProxyError or ErrNoRoute.
func (d *Dispatcher) Dispatch(ctx context.Context, in *model.IncomingRequest) (resp *model.ProxyResponse, err error) {
	state := StateResolving
	var plan *Plan

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = model.NewError(model.KindInternal, "", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			d.recordFailure(state, plan, in, err)
		}
	}()

	plan, err = d.resolve(in)
	if err != nil {
		return nil, err
	}

	state = StateEncoding
	if err = d.encode(in, plan); err != nil {
		return nil, err
	}

	d.logger.Debug("dispatch",
		"request_id", in.RequestID,
		"mode", plan.Mode.String(),
		"route", plan.Route,
		"method", plan.Outbound.Method,
		"target", Sanitize(plan.Outbound.URL),
		"content_type_in", in.ContentType,
		"body_bytes_in", in.Length,
		"body_bytes", len(plan.Outbound.Body),
	)

	state = StateForwarding
	resp, err = d.forwarder.Do(ctx, plan.Outbound)
	if err != nil {
		pe := asProxyError(err, model.KindUpstreamUnreachable)
		if plan.Route != "" {
			pe = pe.WithRoute(plan.Route)
		}
		return nil, pe
	}

	state = StateRelaying
	return resp, nil
}

func (d *Dispatcher) recordFailure(state State, plan *Plan, in *model.IncomingRequest, err error) {
	if errors.Is(err, ErrNoRoute) {
		return
	}
	var pe *model.ProxyError
	if !errors.As(err, &pe) {
		return
	}

	mode := "unknown"
	if plan != nil {
		mode = plan.Mode.String()
	}
	if d.metrics != nil {
		d.metrics.DispatchFailures.WithLabelValues(mode, string(pe.Kind)).Inc()
	}

	attrs := []any{
		"state", string(state),
		"mode", mode,
		"kind", string(pe.Kind),
		"method", in.Method,
		"path", in.Path,
		"body_bytes_in", in.Length,
		"err", Sanitize(err.Error()),
	}
	if in.RequestID != "" {
		attrs = append(attrs, "request_id", in.RequestID)
	}
	if pe.Route != "" {
		attrs = append(attrs, "route", pe.Route)
	}
	if plan != nil && plan.Outbound != nil {
		attrs = append(attrs, "target", Sanitize(plan.Outbound.URL))
	}

	switch {
	case pe.ClientFault():
		d.logger.Debug("dispatch rejected", attrs...)
	case pe.Kind == model.KindInternal:
		d.logger.Error("dispatch failed", attrs...)
	default:
		d.logger.Warn("upstream failure", attrs...)
	}
}

// asProxyError returns err as a *model.ProxyError, wrapping it with
// fallback kind when it is not one already.
func asProxyError(err error, fallback model.ErrorKind) *model.ProxyError {
	var pe *model.ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return model.NewError(fallback, "", err)
}

// Sanitize redacts credential-like query values from URLs and messages.
func Sanitize(s string) string {
	s = userinfoPattern.ReplaceAllString(s, "${1}[REDACTED]@")
	return secretPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
