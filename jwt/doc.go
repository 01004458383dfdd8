// Package jwt issues and verifies the login JWT and splits it into the two
// browser cookies the platform uses: a script-readable header.payload
// cookie and an HttpOnly signature cookie.
package jwt
