// Package model defines shared types for the forwarding gateway.
package model

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Mode selects how a request is resolved and which header policy applies.
type Mode int

const (
	// ModeGeneric forwards to a caller-supplied target with an allow-list of headers.
	ModeGeneric Mode = iota
	// ModeAuthenticated is ModeGeneric plus bearer token injection.
	ModeAuthenticated
	// ModeRouteTable forwards to a fixed upstream from the route table.
	ModeRouteTable
)

func (m Mode) String() string {
	switch m {
	case ModeGeneric:
		return "generic"
	case ModeAuthenticated:
		return "authenticated"
	case ModeRouteTable:
		return "route-table"
	default:
		return "unknown"
	}
}

// BodyKind classifies an inbound body the way the front-end parser saw it.
type BodyKind int

const (
	BodyAbsent BodyKind = iota
	BodyJSON
	BodyText
	BodyBinary
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyText:
		return "text"
	case BodyBinary:
		return "binary"
	default:
		return "absent"
	}
}

// Body is a classified inbound payload.
type Body struct {
	Kind        BodyKind
	Raw         []byte
	Value       any // decoded structure, set for BodyJSON
	ContentType string
}

// IncomingRequest is the inbound request as handed to the dispatcher.
type IncomingRequest struct {
	Method      string
	Path        string
	RawQuery    string
	Query       map[string]string // last value wins
	Header      http.Header
	ContentType string
	Body        Body
	Length      int64
	RequestID   string
}

// QueryValue returns the named query parameter, or empty string.
func (r *IncomingRequest) QueryValue(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query[name]
}

// ResolvedTarget is a validated destination split into origin and path.
type ResolvedTarget struct {
	Scheme       string
	Host         string
	Origin       string
	Path         string
	RawQuery     string
	PathOverride string
	// User holds credentials embedded in the URL. They are never part of
	// Origin and are sent as Basic authorization instead.
	User *url.Userinfo
}

// URL composes the full destination URL.
func (t ResolvedTarget) URL() string {
	p := t.Path
	if t.PathOverride != "" {
		p = t.PathOverride
	}
	if p == "" {
		p = "/"
	}
	var b strings.Builder
	b.WriteString(t.Origin)
	b.WriteString(p)
	if t.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(t.RawQuery)
	}
	return b.String()
}

// OutboundRequest is the request the forwarder sends upstream.
type OutboundRequest struct {
	Method      string
	URL         string
	Host        string
	Header      http.Header
	Body        []byte
	ContentType string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Route is one static route table entry.
type Route struct {
	Name    string
	Prefix  string
	Target  string
	Rewrite string
}
