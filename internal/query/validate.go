// ABOUTME: Request validation applied before any credential lookup or CRM call
// ABOUTME: Reports the first violated constraint as a validation_error

package query

import (
	"strings"
	"unicode/utf8"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
)

// Validator enforces query length bounds. Lengths are counted in runes after
// trimming surrounding whitespace.
type Validator struct {
	MinLength int
	MaxLength int
}

// ValidateQuery checks req and fills in defaults. On success req.Query is
// trimmed and req.ResponseFormat is set.
func (v Validator) ValidateQuery(req *Request) error {
	if req == nil {
		return apierror.Validationf("request body is required")
	}

	q := strings.TrimSpace(req.Query)
	if q == "" {
		return apierror.Validationf("query is required")
	}

	n := utf8.RuneCountInString(q)
	if v.MinLength > 0 && n < v.MinLength {
		return apierror.Validationf("query must be at least %d characters", v.MinLength)
	}
	if v.MaxLength > 0 && n > v.MaxLength {
		return apierror.Validationf("query exceeds %d characters", v.MaxLength)
	}

	if req.ResponseFormat == "" {
		req.ResponseFormat = DefaultFormat
	}
	if !req.ResponseFormat.Valid() {
		return apierror.Validationf("invalid response_format %q: must be table, natural, or both", req.ResponseFormat)
	}

	req.Query = q
	return nil
}

// ValidateInvocation checks the tool name is present. Whether the name is
// registered is decided by the registry.
func ValidateInvocation(name string) error {
	if strings.TrimSpace(name) == "" {
		return apierror.Validationf("tool name is required")
	}
	return nil
}
