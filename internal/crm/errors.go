// ABOUTME: Failure classification for CRM calls and redaction of upstream bodies
// ABOUTME: Decides which failures are retried and how each maps to an API error

package crm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUpstreamUnavailable means the CRM could not be reached or did not
	// answer in time on any attempt.
	ErrUpstreamUnavailable = errors.New("crm unreachable")
	// ErrUpstreamRejected means the CRM refused the credential (401/403).
	ErrUpstreamRejected = errors.New("crm rejected credential")
	// ErrUpstreamStatus means the CRM answered with an unexpected status.
	ErrUpstreamStatus = errors.New("crm returned unexpected status")
)

// maxBodyExcerpt bounds the upstream body echoed back to callers.
const maxBodyExcerpt = 512

// minRedactTokenLen is the shortest token replaced by exact match. Shorter
// tokens occur inside ordinary words and are left to the patterns below.
const minRedactTokenLen = 8

var reSecrets = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/=-]+)`),
	regexp.MustCompile(`(?i)("?(?:api_key|apikey|token|access_token|auth_token)"?\s*[:=]\s*"?)([^\s",}]+)`),
}

// retryableStatus reports whether an HTTP status is worth another attempt.
func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redact removes token and any credential-looking values from s, then
// truncates it to maxBodyExcerpt bytes on a rune boundary.
func redact(s, token string) string {
	if len(token) >= minRedactTokenLen {
		s = strings.ReplaceAll(s, token, "***")
	}
	for _, re := range reSecrets {
		s = re.ReplaceAllString(s, "${1}***")
	}
	s = strings.TrimSpace(s)
	if len(s) <= maxBodyExcerpt {
		return s
	}
	cut := maxBodyExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
