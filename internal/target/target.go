// Package target validates destination URLs supplied by callers or by the
// route table.
package target

import (
	"net/url"
	"strings"

	"forward-proxy-go/internal/model"
)

// Resolve parses candidate as an absolute http(s) URL and splits it into
// origin and path. Fragments are dropped; userinfo is kept aside in User.
func Resolve(candidate string) (model.ResolvedTarget, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return model.ResolvedTarget{}, model.NewError(model.KindMissingTarget,
			"target query parameter is required", nil)
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return model.ResolvedTarget{}, model.NewError(model.KindInvalidTargetURL,
			"target is not a valid URL", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return model.ResolvedTarget{}, model.NewError(model.KindInvalidTargetURL,
			"target scheme must be http or https", nil)
	}
	if u.Host == "" || u.Hostname() == "" {
		return model.ResolvedTarget{}, model.NewError(model.KindInvalidTargetURL,
			"target host is required", nil)
	}

	host := strings.ToLower(u.Host)
	return model.ResolvedTarget{
		Scheme:   scheme,
		Host:     host,
		Origin:   scheme + "://" + host,
		Path:     u.EscapedPath(),
		RawQuery: u.RawQuery,
		User:     u.User,
	}, nil
}

// Join resolves base and replaces its path with base's path followed by sub.
// Used to rebase a rewritten route path onto a fixed upstream. A non-empty
// sub must start with '/' so it cannot alter the origin.
func Join(base, sub, rawQuery string) (model.ResolvedTarget, error) {
	t, err := Resolve(base)
	if err != nil {
		return model.ResolvedTarget{}, err
	}
	if sub != "" && sub[0] != '/' {
		return model.ResolvedTarget{}, model.NewError(model.KindInternal,
			"sub-path must start with '/'", nil)
	}
	p := strings.TrimSuffix(t.Path, "/") + sub
	if p == "" {
		p = "/"
	}
	t.PathOverride = p
	t.RawQuery = rawQuery
	return t, nil
}
