// Package session stores server-side web sessions in Redis.
//
// A session is created at login and referenced by an opaque id carried in
// the session cookie. Each session keeps the user it belongs to and a
// queue of flash messages shown on the next page render.
//
// # Keys
//
//   - <prefix>:<sid>        encoded [Session], TTL = remaining lifetime
//   - <prefix>:u:<user id>  set of session ids owned by the user
//
// The per-user index lets the login flow drop every other session when only
// one session per user is allowed.
package session
