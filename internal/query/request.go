// ABOUTME: Inbound natural-language query model and response format enum
// ABOUTME: Also converts loosely typed tool arguments into a Request

package query

import (
	"strings"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
)

// Format selects the shape of the result text.
type Format string

const (
	FormatTable   Format = "table"
	FormatNatural Format = "natural"
	FormatBoth    Format = "both"
)

// DefaultFormat is applied when a request does not name one.
const DefaultFormat = FormatBoth

// Formats lists the accepted values in documentation order.
var Formats = []Format{FormatTable, FormatNatural, FormatBoth}

// Valid reports whether f is one of the known formats.
func (f Format) Valid() bool {
	switch f {
	case FormatTable, FormatNatural, FormatBoth:
		return true
	}
	return false
}

// Request is the body of POST /query and the arguments of natural_query.
type Request struct {
	Query          string  `json:"query"`
	ResponseFormat Format  `json:"response_format,omitempty"`
	APIKey         string  `json:"api_key,omitempty"`
	SessionID      *string `json:"session_id,omitempty"`
	EnableMemory   *bool   `json:"enable_memory,omitempty"`
}

// RequestFromArguments reads a Request out of a tool's argument map.
// Type mismatches are validation errors; missing fields are left zero.
func RequestFromArguments(args map[string]any) (*Request, error) {
	req := &Request{}

	s, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	req.Query = s

	if s, err = stringArg(args, "response_format"); err != nil {
		return nil, err
	}
	req.ResponseFormat = Format(strings.TrimSpace(s))

	if s, err = stringArg(args, "api_key"); err != nil {
		return nil, err
	}
	req.APIKey = s

	if v, ok := args["session_id"]; ok && v != nil {
		sid, ok := v.(string)
		if !ok {
			return nil, apierror.Validationf("session_id must be a string")
		}
		req.SessionID = &sid
	}

	if v, ok := args["enable_memory"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, apierror.Validationf("enable_memory must be a boolean")
		}
		req.EnableMemory = &b
	}

	return req, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apierror.Validationf("%s must be a string, got %T", key, v)
	}
	return s, nil
}
