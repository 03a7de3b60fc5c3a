// Package apierror classifies gateway failures for callers.
//
// # Kinds
//
//   - validation_error: malformed or oversized input (400)
//   - authentication_error: no credential resolvable, or the CRM rejected it (401)
//   - not_found: unknown tool or route (404)
//   - method_not_allowed: known route, wrong method (405)
//   - upstream_unavailable: network or timeout failure after retries (502)
//   - upstream_error: CRM answered with an unexpected status (500)
//   - internal_error: anything unclassified (500)
//
// Packages return *Error values that wrap their own sentinel errors, so both
// errors.Is(err, crm.ErrUpstreamUnavailable) and From(err).Kind work on the
// same value. The HTTP layer calls From at the request boundary.
package apierror
