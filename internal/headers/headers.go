// Package headers decides which inbound headers are sent upstream.
package headers

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"forward-proxy-go/internal/model"
)

// recomputed are never copied; the forwarder and body codec set them.
var recomputed = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Content-Type":      true,
}

// allowList is forwarded in generic and authenticated modes.
var allowList = []string{
	"Authorization",
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

const bearerPrefix = "Bearer "

// Build returns the outbound header set for mode. token is the explicit
// credential for authenticated mode (e.g. from the token query parameter);
// when empty the inbound Authorization header is used instead.
func Build(in http.Header, mode model.Mode, token string) http.Header {
	out := make(http.Header)

	switch mode {
	case model.ModeRouteTable:
		for key, vals := range in {
			ck := http.CanonicalHeaderKey(key)
			if recomputed[ck] {
				continue
			}
			out[ck] = append([]string(nil), vals...)
		}
	default:
		for _, key := range allowList {
			if vals := in.Values(key); len(vals) > 0 {
				out[key] = append([]string(nil), vals...)
			}
		}
	}

	if mode == model.ModeAuthenticated {
		if token == "" {
			token = in.Get("Authorization")
		}
		if token = strings.TrimSpace(token); token != "" {
			out.Set("Authorization", Bearer(token))
		} else {
			out.Del("Authorization")
		}
	}

	return out
}

// Bearer prefixes token with "Bearer " unless it already carries the prefix.
func Bearer(token string) string {
	if strings.HasPrefix(token, bearerPrefix) {
		return token
	}
	return bearerPrefix + token
}

// ApplyUserinfo sets Basic authorization from URL credentials when h carries
// no Authorization header yet.
func ApplyUserinfo(h http.Header, user *url.Userinfo) {
	if user == nil || h.Get("Authorization") != "" {
		return
	}
	pass, _ := user.Password()
	creds := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + pass))
	h.Set("Authorization", "Basic "+creds)
}
