// Package identity holds latch's account model and its persistence boundary.
//
// It defines users, pending signups and password-reset tokens, the Store interface that
// moves them between states, and three Store implementations (PostgreSQL, SQLite, memory).
//
// Secrets never reach this package in plaintext: verification codes and reset tokens arrive
// already hashed, and passwords arrive as encoded hashes.
package identity
