// Package routes holds the static route table: fixed upstreams reachable
// under a path prefix.
package routes

import (
	"fmt"
	"strings"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/target"
)

// Defaults is the built-in route table used when the config declares none.
var Defaults = []model.Route{
	{Name: "github", Prefix: "/api/github", Target: "https://api.github.com"},
	{Name: "jsonplaceholder", Prefix: "/api/jsonplaceholder", Target: "https://jsonplaceholder.typicode.com"},
	{Name: "httpbin", Prefix: "/api/httpbin", Target: "https://httpbin.org"},
}

// Table is an ordered, immutable set of routes.
type Table struct {
	routes []model.Route
}

// Match is the result of a successful lookup.
type Match struct {
	Route model.Route
	// Path is the inbound path with the prefix replaced by the rewrite.
	Path string
}

// New validates entries and builds a table. Order is preserved.
func New(entries []model.Route) (*Table, error) {
	routes := make([]model.Route, 0, len(entries))
	for i, r := range entries {
		if !strings.HasPrefix(r.Prefix, "/") || r.Prefix == "/" {
			return nil, fmt.Errorf("route %d: invalid prefix %q", i, r.Prefix)
		}
		if r.Rewrite != "" && !strings.HasPrefix(r.Rewrite, "/") {
			return nil, fmt.Errorf("route %q: rewrite must start with '/'; got %q", r.Prefix, r.Rewrite)
		}
		if _, err := target.Resolve(r.Target); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Prefix, err)
		}
		if r.Name == "" {
			r.Name = r.Prefix
		}
		routes = append(routes, r)
	}
	return &Table{routes: routes}, nil
}

// FromConfig builds the table from config routes, falling back to Defaults.
func FromConfig(cfg *config.Config) (*Table, error) {
	if len(cfg.Routes) == 0 {
		return New(Defaults)
	}
	entries := make([]model.Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		entries[i] = model.Route{Name: r.Name, Prefix: r.Prefix, Target: r.Target, Rewrite: r.Rewrite}
	}
	return New(entries)
}

// Match returns the first route whose prefix equals path or is followed by
// a '/' in path.
func (t *Table) Match(path string) (Match, bool) {
	for _, r := range t.routes {
		if path != r.Prefix && !strings.HasPrefix(path, r.Prefix+"/") {
			continue
		}
		rest := r.Rewrite + strings.TrimPrefix(path, r.Prefix)
		if rest == "" {
			rest = "/"
		}
		return Match{Route: r, Path: rest}, true
	}
	return Match{}, false
}

// Routes returns a copy of the table entries in order.
func (t *Table) Routes() []model.Route {
	return append([]model.Route(nil), t.routes...)
}

// Prefixes returns the route prefixes in table order.
func (t *Table) Prefixes() []string {
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Prefix
	}
	return out
}
