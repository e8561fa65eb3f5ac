// Package auth provides account management and token verification for
// EnviroSense Core.
//
// It implements:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Short-lived JWT access tokens validated by signature only, so REST
//     middleware and socket handshakes authenticate without a DB hit
//   - Brute-force lockout: repeated login failures lock the account for a
//     configured window
//   - SQLite-backed user persistence
//
// Tokens carry the user ID as subject plus the username, which is all the
// ingest path needs to route sensor readings to their owner.
package auth
