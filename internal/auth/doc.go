// Package auth stores panel credentials and issues admin tokens.
//
// Each panel installation has one Client record keyed by its installation
// identity. The panel's secret is kept only as an Argon2id PHC hash. The
// record also holds the panel's configuration blob, which is pushed to the
// panel when it connects and whenever an administrator replaces it.
//
// Admin tokens are HS256 JWTs carrying the admin role. They authorise the
// configuration push endpoint and are minted by the admin CLI.
package auth
