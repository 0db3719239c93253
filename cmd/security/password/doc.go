// Package password provides password hashing and verification for latch.
//
// New hashes are always Argon2id in a PHC-like encoded string. Verification also accepts
// bcrypt hashes ($2a$, $2b$, $2y$) so accounts imported from older deployments keep working;
// NeedsRehash tells callers when a stored hash should be upgraded after a successful sign-in.
//
// Hash strings are treated as untrusted input during Verify: parameters that exceed the
// configured bounds are rejected before any expensive work is done.
package password
