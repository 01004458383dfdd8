// Package password hashes, verifies and judges passwords.
//
// # Output format
//
// New hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from older systems in bcrypt form ($2a$, $2b$, $2y$) still
// verify; [Hasher.NeedsUpgrade] reports them so the caller can re-hash on the
// next successful login.
//
// # Normalisation
//
// [Hasher.Hash] and [Hasher.Verify] operate on raw bytes. Login input is
// passed through [Normalize] (NFKC) first; stored hashes are never
// re-normalised, so a password saved in a decomposed form no longer matches.
//
// # Policy
//
// [Policy] validates a password against length and character-class rules.
// [ComplianceChecker] turns a policy failure at login time into either a
// hard [ComplianceError] or a soft warning, depending on the configured
// deadlines.
package password
