package domain

import "time"

// Capture is one recorded request/response observation of a live endpoint,
// produced by middleware in the analyzed service and exported for merging
// into the static analysis. Bodies arrive already decoded from JSON.
type Capture struct {
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Status          int               `json:"status"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	RequestBody     any               `json:"request_body,omitempty"`
	ResponseBody    any               `json:"response_body,omitempty"`
	Query           map[string]string `json:"query,omitempty"`
	RecordedAt      time.Time         `json:"recorded_at"`
}

// Key names the captured endpoint, matching EndpointDoc.Key.
func (c Capture) Key() string {
	return EndpointKey(c.Method, c.Path)
}
