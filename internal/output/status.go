package output

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cortexlake/cdl/internal/api"
)

// Service names used to select status fields.
const (
	ServiceLogging   = "logging"
	ServiceEvent     = "event"
	ServiceDirectory = "directory"
	ServiceQuery     = "query"
)

var queryStatuses = []string{"RUNNING", "FINISHED", "JOB_FINISHED", "JOB_FAILED"}

// StatusLine formats the one-line summary of resp:
//
//	<op>: <status> <reason> <length>: <errorCode>: '<errorMessage>' <fields>
func StatusLine(op, service string, resp *api.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d %s %s", op, resp.StatusCode, resp.Reason, contentLength(resp))

	body := resp.Value()
	if obj, ok := body.(map[string]any); ok {
		if v, ok := obj["errorCode"]; ok {
			fmt.Fprintf(&b, ": %v", v)
		}
		if v, ok := obj["errorMessage"]; ok {
			fmt.Fprintf(&b, ": '%v'", v)
		}
	}

	switch service {
	case ServiceLogging:
		loggingFields(&b, body)
	case ServiceEvent:
		eventFields(&b, body)
	case ServiceDirectory:
		directoryFields(&b, body)
	case ServiceQuery:
		queryFields(&b, body)
	}
	return b.String()
}

// Status writes StatusLine to Err.
func (w *Writer) Status(op, service string, resp *api.Response) {
	fmt.Fprintln(w.opts.Err, StatusLine(op, service, resp))
}

func contentLength(resp *api.Response) string {
	if v := resp.Headers.Get("Content-Length"); v != "" {
		return v
	}
	return strconv.Itoa(len(resp.Body))
}

func loggingFields(b *strings.Builder, body any) {
	obj, ok := body.(map[string]any)
	if !ok {
		return
	}
	if v, ok := obj["queryStatus"]; ok {
		fmt.Fprintf(b, " queryStatus=%v", v)
		if s, _ := v.(string); !slices.Contains(queryStatuses, s) {
			b.WriteString("(INVALID)")
		}
	}
	writeField(b, obj, "queryId")
	writeField(b, obj, "sequenceNo")
	if result, ok := obj["result"].(map[string]any); ok {
		if es, ok := result["esResult"].(map[string]any); ok {
			if size, ok := es["size"]; ok {
				fmt.Fprintf(b, " size=%v", size)
			}
		}
	}
}

func eventFields(b *strings.Builder, body any) {
	entries, ok := body.([]any)
	if !ok {
		return
	}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if lt, ok := entry["logType"]; ok {
			fmt.Fprintf(b, " %v", lt)
		}
		if events, ok := entry["event"].([]any); ok {
			fmt.Fprintf(b, "[size=%d]", len(events))
		}
	}
}

func directoryFields(b *strings.Builder, body any) {
	obj, ok := body.(map[string]any)
	if !ok {
		return
	}
	for _, k := range []string{"count", "pageNumber", "pageSize", "unreadResults"} {
		writeField(b, obj, k)
	}
}

func queryFields(b *strings.Builder, body any) {
	obj, ok := body.(map[string]any)
	if !ok {
		return
	}
	for _, k := range []string{"jobId", "state", "rowsInPage"} {
		writeField(b, obj, k)
	}
}

func writeField(b *strings.Builder, obj map[string]any, key string) {
	if v, ok := obj[key]; ok {
		fmt.Fprintf(b, " %s=%v", key, v)
	}
}
