// Package account implements the latch account lifecycle on top of an identity.Store.
//
// Two short-lived secrets gate every state change:
//
//	(nothing) --SignUp--> pending signup --VerifyEmail(code)--> active user
//	active user --ForgotPassword--> reset token --ResetPassword(token)--> password changed
//
// Verification codes and reset tokens are mailed in plaintext and stored only as digests
// (token.Hasher). Each one is consumed at most once, never after its expiry, and issuing a new one
// for the same email or user invalidates the previous one. SignIn issues stateless bearer tokens
// through session.Manager.
package account
