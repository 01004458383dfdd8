// Package rate implements the Redis-backed failed-login limiter.
//
// # Window semantics
//
// Rolling window: every failure is a member of a sorted set scored by its
// unix-nano timestamp. Members older than the window are trimmed before
// each count. Key prefixes:
//   - lf:  failures per credential (lower-cased email)
//   - lfi: failures per client IP
package rate
