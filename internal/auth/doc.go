// Package auth provides authentication and authorisation for FarmRa Core.
//
// It implements a four-role model (FARMER, TECHNICIAN, ADMIN, CUSTOMER) with:
//   - Argon2id password hashing and a configurable signup password policy
//   - HS256 session tokens carrying subject and role, verified against an
//     injected clock
//   - Optional server-side sessions (SQLite or Redis) for cookie deployments
//   - A static role-permission mapping the HTTP layer turns into per-route
//     allow-sets
//
// Role names from clients are resolved through an exact table of accepted
// spellings. Self-service signup falls back to FARMER for anything else;
// the administrative path rejects unknown roles.
package auth
