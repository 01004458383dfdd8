// Package stores persists short-lived password-reset records in Redis.
//
// Each record is a versioned binary value with a TTL. Consume uses
// WATCH/MULTI with retry on contention, compares the secret hash in
// constant time and deletes the record on success or after too many
// mismatches.
package stores
