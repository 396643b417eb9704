// Package preflight provides readiness checks for the origin application,
// the cache directory, and the binaries the deployed image relies on.
//
// The server runs RunAll before installing the precache so an unreachable
// origin is reported up front instead of as a cryptic install failure. The
// CLI status and launch commands reuse the individual checks.
package preflight
