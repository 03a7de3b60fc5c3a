// Package crm forwards natural-language queries to the CRM's
// /entity/natural_query endpoint.
//
// Every attempt is bounded by Config.Timeout. Connection failures, timeouts
// and 5xx answers are retried up to Config.MaxRetries more times, with a
// backoff that starts at RetryBackoff and doubles up to RetryBackoffMax. 4xx
// answers are never retried. Failures come back as *apierror.Error values
// wrapping one of the package sentinels:
//
//	ErrUpstreamUnavailable  no answer after all attempts (502)
//	ErrUpstreamRejected     401 or 403 from the CRM (401)
//	ErrUpstreamStatus       any other non-2xx (500, with a redacted body excerpt)
package crm
