package client

import (
	"net/http"
	"net/url"
	"strings"
)

const userAgent = "varys/1"

func requestHeaders(contentType, apiKey string) http.Header {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Accept", "text/event-stream, application/json")
	h.Set("User-Agent", userAgent)

	// Ask for an uncompressed body so SSE records arrive as they are flushed.
	h.Set("Accept-Encoding", "identity")

	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

// buildTargetURL resolves path against the base URL, keeping any path
// prefix the base carries (e.g. http://host/api + /chat).
func buildTargetURL(base *url.URL, path string, query url.Values) string {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "text/stream")
}
