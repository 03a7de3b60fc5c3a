// ABOUTME: Reshapes a raw CRM answer into the response envelope
// ABOUTME: Probes known prose and structured fields with gjson, then applies the requested format

package query

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// NoSummary is the natural-format result when the CRM sent no prose.
const NoSummary = "The CRM returned no natural-language summary for this query."

var (
	proseKeys      = []string{"natural_response", "answer", "response", "summary", "message", "result"}
	structuredKeys = []string{"table_data", "table", "data", "rows", "results", "records"}
)

// Envelope is the normalized answer returned to callers of /query.
type Envelope struct {
	Query          string `json:"query"`
	Result         string `json:"result"`
	ResponseFormat Format `json:"response_format"`
	Timestamp      string `json:"timestamp"`
	Success        bool   `json:"success"`
}

// Normalize builds a fresh envelope from the CRM body. It has no side effects.
func Normalize(req *Request, body []byte, now time.Time) Envelope {
	format := req.ResponseFormat
	if format == "" {
		format = DefaultFormat
	}

	prose, structured := extract(body)

	var result string
	switch format {
	case FormatTable:
		switch {
		case structured != "":
			result = structured
		case prose != "":
			result = prose
		default:
			result = rawText(body)
		}
	case FormatNatural:
		result = prose
		if result == "" {
			result = NoSummary
		}
	default:
		parts := make([]string, 0, 2)
		if prose != "" {
			parts = append(parts, prose)
		}
		if structured != "" {
			parts = append(parts, structured)
		}
		if len(parts) == 0 {
			result = rawText(body)
		} else {
			result = strings.Join(parts, "\n\n")
		}
	}

	return Envelope{
		Query:          req.Query,
		Result:         result,
		ResponseFormat: format,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
		Success:        true,
	}
}

// extract returns the first prose string and the first structured value
// (indented JSON) found in body. Bodies that are not JSON objects yield
// nothing.
func extract(body []byte) (prose, structured string) {
	if !gjson.ValidBytes(body) {
		return "", ""
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "", ""
	}

	for _, key := range proseKeys {
		v := root.Get(key)
		if v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			prose = strings.TrimSpace(v.Str)
			break
		}
	}

	for _, key := range structuredKeys {
		v := root.Get(key)
		if v.IsArray() || v.IsObject() {
			structured = indent(v.Raw)
			break
		}
	}

	return prose, structured
}

func indent(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

func rawText(body []byte) string {
	return strings.TrimSpace(string(body))
}
