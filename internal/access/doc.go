// Package access resolves the identity behind a request and enforces the
// role, maintenance, ownership and rate limit rules for it.
//
// A protected route is an explicit sequence of stages:
//
//	Identify → RequireRole → CheckMaintenanceMode → Owns → RateLimit → handler
//
// Each Stage takes the State built by the stages before it and either
// returns an extended State or a Rejection. Pipeline composes stages into
// chi-compatible middleware and stores the final State on the request
// context, so a route group can run a second Pipeline that continues where
// the group's first one stopped.
//
// Revocation lag: Identify re-reads the user row on every request, so a
// deactivated or deleted account loses access immediately. Revoking a
// session only stops refresh; an access token already issued for it stays
// usable until it expires (the access token TTL, 15 minutes by default).
//
// With multi-user mode off every stage is a no-op and every request acts
// as auth.LocalAdmin. That is a deployment switch, not a security boundary.
package access
