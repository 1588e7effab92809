// Package body classifies inbound payloads and re-encodes them for the
// outbound request.
package body

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"forward-proxy-go/internal/model"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeText   = "text/plain"
	contentTypeBinary = "application/octet-stream"
	contentTypeForm   = "application/x-www-form-urlencoded"
)

// ErrMalformedJSON is returned by Classify when a JSON body does not parse.
var ErrMalformedJSON = errors.New("malformed JSON body")

// Encoded is an outbound payload ready to send.
type Encoded struct {
	Bytes       []byte
	ContentType string
}

// Len is the exact Content-Length of the encoded payload.
func (e Encoded) Len() int64 { return int64(len(e.Bytes)) }

// Classify turns a raw inbound body into a model.Body based on its declared
// content type.
func Classify(contentType string, raw []byte) (model.Body, error) {
	b := model.Body{Raw: raw, ContentType: contentType}
	if len(raw) == 0 {
		b.Kind = model.BodyAbsent
		return b, nil
	}

	mediaType := mediaTypeOf(contentType)
	switch {
	case isJSON(mediaType):
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return model.Body{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		if dec.More() {
			return model.Body{}, fmt.Errorf("%w: trailing data", ErrMalformedJSON)
		}
		b.Kind = model.BodyJSON
		b.Value = v
	case mediaType == contentTypeForm:
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return model.Body{}, fmt.Errorf("parse form body: %w", err)
		}
		b.Kind = model.BodyJSON
		b.Value = formValue(vals)
	case isText(mediaType):
		b.Kind = model.BodyText
	default:
		b.Kind = model.BodyBinary
	}
	return b, nil
}

// Encode produces the outbound payload for b. The boolean is false when no
// body should be sent.
func Encode(method string, b model.Body) (Encoded, bool, error) {
	if b.Kind == model.BodyAbsent || method == http.MethodHead {
		return Encoded{}, false, nil
	}

	switch b.Kind {
	case model.BodyBinary:
		ct := b.ContentType
		if ct == "" {
			ct = contentTypeBinary
		}
		return Encoded{Bytes: b.Raw, ContentType: ct}, true, nil
	case model.BodyText:
		ct := b.ContentType
		if !isText(mediaTypeOf(ct)) {
			ct = contentTypeText
		}
		return Encoded{Bytes: b.Raw, ContentType: ct}, true, nil
	default:
		data, err := marshal(b.Value)
		if err != nil {
			return Encoded{}, false, fmt.Errorf("encode JSON body: %w", err)
		}
		return Encoded{Bytes: data, ContentType: contentTypeJSON}, true, nil
	}
}

// marshal encodes v without HTML escaping and without the trailing newline
// json.Encoder appends.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// formValue mirrors a typical urlencoded parser: single values stay
// strings, repeated keys become arrays.
func formValue(vals url.Values) map[string]any {
	out := make(map[string]any, len(vals))
	for k, vs := range vals {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		arr := make([]any, len(vs))
		for i, v := range vs {
			arr[i] = v
		}
		out[k] = arr
	}
	return out
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

func isJSON(mediaType string) bool {
	return mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func isText(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/xml" ||
		strings.HasSuffix(mediaType, "+xml")
}
