// Package middleware holds the net/http middleware in front of the authn
// handlers.
//
// # Identity
//
//   - [SessionLoader] resolves the session cookie through
//     Engine.ResolveSession and stores the [authn.Identity] in the request
//     context. Missing, expired and superseded sessions leave the request
//     anonymous.
//   - [RequireLogin] redirects anonymous requests to the login page.
//
// # Plumbing
//
// [RequestID], [ClientIP], [AccessLog], [SecurityHeaders] and [FloodLimit]
// are independent and compose with [Chain].
//
// This package makes no authentication decisions of its own; everything
// about sessions is delegated to the Engine.
package middleware
