package upstream

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

// acceptEncoding is advertised on every upstream request.
const acceptEncoding = "br, gzip, deflate"

// decodeBody wraps body with a decoder for the given Content-Encoding.
func decodeBody(body io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "br":
		return brotli.NewReader(body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "deflate":
		return zlib.NewReader(body)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// parseBody turns a complete response body into the richest value it supports:
// a JSON document, a JSON string, a chunk stream when the body is server-sent
// events, or plain text. JSON documents are passed through unparsed so the
// normalizer sees exactly what was on the wire.
func parseBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if looksLikeSSE(trimmed) {
		return readEvents(io.NopCloser(bytes.NewReader(trimmed)), nil)
	}

	if !gjson.ValidBytes(trimmed) {
		return string(body)
	}

	result := gjson.ParseBytes(trimmed)
	switch {
	case result.Type == gjson.String:
		return result.Str
	case result.Type == gjson.Null:
		return nil
	default:
		return result
	}
}

func looksLikeSSE(body []byte) bool {
	return bytes.HasPrefix(body, []byte("data:")) || bytes.HasPrefix(body, []byte("event:"))
}
