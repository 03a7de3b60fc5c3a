// Package auth resolves the bearer credential forwarded to the CRM.
//
// # Resolution Order
//
// Each request yields exactly one token, taken from the first source present:
//
//  1. Inline: the api_key field of a /query body (or arguments.api_key for tools)
//  2. Header: Authorization: Bearer <token>
//  3. Default: the process-wide token from AMBIVO_AUTH_TOKEN or crm.auth_token
//
// An Authorization header that is not of the Bearer form is not a usable
// source; resolution continues with the default. When nothing is found the
// resolver returns an authentication_error wrapping ErrNoCredential.
//
// # Pass-through
//
// The gateway is not an identity provider. Tokens are not verified locally:
// an expired or forged token is forwarded and the CRM's 401/403 is relayed.
// Subject and Fingerprint exist only so logs can attribute requests:
//
//	logger.Info("query forwarded", "credential", cred)
//
// Credential implements slog.LogValuer, so the token never reaches a log line.
package auth
