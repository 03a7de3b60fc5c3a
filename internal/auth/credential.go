// ABOUTME: Resolves the bearer credential for one request from its possible sources
// ABOUTME: Precedence is inline body field, then Authorization header, then process default

package auth

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/ambivo-corp/ambivo-gpt/internal/apierror"
)

// ErrNoCredential means no source yielded a token.
var ErrNoCredential = errors.New("no credential provided")

// Source identifies where a credential came from.
type Source string

const (
	SourceInline  Source = "inline"
	SourceHeader  Source = "header"
	SourceDefault Source = "default"
)

// Sources holds the per-request candidates. Header is the raw value of the
// Authorization header.
type Sources struct {
	Inline string
	Header string
}

// Credential is the single token chosen for a request.
type Credential struct {
	Token  string
	Source Source
}

// LogValue keeps the token itself out of log output.
func (c Credential) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("source", string(c.Source)),
		slog.String("fingerprint", Fingerprint(c.Token)),
	}
	if sub := Subject(c.Token); sub != "" {
		attrs = append(attrs, slog.String("subject", sub))
	}
	return slog.GroupValue(attrs...)
}

// Resolver picks a credential. The zero value has no default token.
type Resolver struct {
	defaultToken string
}

// NewResolver creates a resolver with the process-wide default token, which
// may be empty.
func NewResolver(defaultToken string) *Resolver {
	return &Resolver{defaultToken: strings.TrimSpace(defaultToken)}
}

// HasDefault reports whether a process-wide token is configured.
func (r *Resolver) HasDefault() bool {
	return r.defaultToken != ""
}

// Resolve returns exactly one credential or an authentication error.
// The token is not checked locally; the CRM decides whether it is valid.
func (r *Resolver) Resolve(src Sources) (Credential, error) {
	if token := strings.TrimSpace(src.Inline); token != "" {
		return Credential{Token: token, Source: SourceInline}, nil
	}

	token, headerErr := extractBearerToken(src.Header)
	if headerErr == "" {
		return Credential{Token: token, Source: SourceHeader}, nil
	}

	if r.defaultToken != "" {
		return Credential{Token: r.defaultToken, Source: SourceDefault}, nil
	}

	msg := "authentication required: send Authorization: Bearer <token> or api_key"
	if src.Header != "" {
		msg = headerErr + "; expected Authorization: Bearer <token>"
	}
	return Credential{}, apierror.Wrap(apierror.KindAuthentication, msg, ErrNoCredential)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
