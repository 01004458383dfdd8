// Package authn implements the platform login and logout flows: credential
// checks against a user store, a Redis rolling-window limit on failed
// logins, password-policy compliance at login, single-session enforcement,
// PII-aware audit logging, and JWT issuance for the cookie pair set on a
// successful login.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authn is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([LoginRequest], [LoginResult], [Identity], MetricsSnapshot).
// Flow orchestration, rate limiting, reset-token storage and audit dispatch
// live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Speak HTTP. Cookies, envelopes and status codes belong to httpapi.
//   - Expose Redis clients or encoding details in its public API.
//   - Import any sub-package that re-imports authn (no import cycles).
//
// # Failure semantics
//
// A failed Login returns an error carrying one of [ErrInvalidCredentials],
// [ErrLoginRateLimited], [ErrAccountInactive] or [ErrPasswordNonCompliant];
// [FailureMessage] maps it to the user-facing text. Infrastructure failures
// map to the generic message.
package authn
