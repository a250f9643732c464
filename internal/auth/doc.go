// Package auth provides identities, credentials and tokens for Deckvault Core.
//
// It implements a flat three-role model (admin, editor, viewer) with:
//   - Argon2id password hashing
//   - Stateless HS256 access tokens (short TTL) and refresh tokens (long TTL,
//     random 128-bit token id) with issuer, audience and type checks
//   - Anti-enumeration credential checks (unknown user and wrong password
//     are indistinguishable)
//   - The last-active-admin invariant for role changes, deactivation and deletion
//
// Access tokens are never stored. Revoking one before it expires is not
// possible; deactivating the user takes effect on the next request because
// the access gate re-reads the user row. The revocation lag is therefore at
// most the access token TTL.
package auth
