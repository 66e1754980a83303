package api

import (
	"encoding/json"
	"net/http"
	"strings"

	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// Response wraps an API response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// IsJSON reports whether the response declares a JSON content type.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "json")
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return cdlerrors.ErrInvalidJSON(err)
	}
	return nil
}

// JSON decodes the body as a JSON object.
func (r *Response) JSON() (map[string]any, error) {
	var obj map[string]any
	if err := r.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Value decodes the body as any JSON value. A non-JSON body yields nil.
func (r *Response) Value() any {
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil
	}
	return v
}

// StatusError returns an HTTPStatusError for a non-2xx response, or nil.
func (r *Response) StatusError() error {
	if r.OK() {
		return nil
	}
	return cdlerrors.ErrHTTPStatus(r.StatusCode, r.Reason, r.Text())
}

// ServerError returns a ServerReportedError carrying the body when the JSON
// object contains "error" or "error_description".
func (r *Response) ServerError() error {
	obj, err := r.JSON()
	if err != nil {
		return nil
	}
	if truthy(obj["error"]) || truthy(obj["error_description"]) {
		return cdlerrors.ErrServerReported(r.Text())
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
