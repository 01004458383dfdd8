// Package httpapi serves the login, logout and supporting endpoints over
// net/http.
//
// Credential, policy and internal failures on /login all answer HTTP 200
// with {"success": false, "value": <message>, "redirect_url": null}; the
// message comes from authn.FailureMessage so internals never reach the
// client.
package httpapi
