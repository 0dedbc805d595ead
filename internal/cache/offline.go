package cache

import (
	"encoding/json"
	"net/http"

	"github.com/ticketnest/core/internal/errors"
)

// offlineBody is the synthesized payload returned when the network is
// unreachable and no cached copy exists. The sentinel "offline" field lets
// callers distinguish it from ordinary HTTP errors.
type offlineBody struct {
	Offline bool   `json:"offline"`
	Error   string `json:"error"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// offlineAPIResponse synthesizes a "service unavailable while offline"
// response for an API request.
func offlineAPIResponse(rawURL string) *Response {
	body, _ := json.Marshal(offlineBody{
		Offline: true,
		Error:   string(errors.ErrOffline),
		Message: "service unavailable while offline",
		URL:     rawURL,
	})
	return &Response{
		Status:      http.StatusServiceUnavailable,
		ContentType: "application/json",
		Body:        body,
		Offline:     true,
	}
}

// offlineAssetResponse synthesizes an "asset unavailable offline" response,
// distinct in status from success.
func offlineAssetResponse(rawURL string) *Response {
	body, _ := json.Marshal(offlineBody{
		Offline: true,
		Error:   string(errors.ErrAssetOffline),
		Message: "asset unavailable offline",
		URL:     rawURL,
	})
	return &Response{
		Status:      http.StatusServiceUnavailable,
		ContentType: "application/json",
		Body:        body,
		Offline:     true,
	}
}
