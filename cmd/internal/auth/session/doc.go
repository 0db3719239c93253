// Package session issues and verifies latch bearer tokens.
//
// Tokens are HS256 JWTs carrying the user ID (sub) and email. They are stateless:
// nothing is stored server-side and a token stays valid until its exp claim.
package session
