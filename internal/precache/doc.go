// Package precache describes the fixed set of assets the shim stores at
// install time and the name of the cache that holds them.
//
// Cache names are derived from a digest of the asset list unless an explicit
// name is configured, so editing the list automatically rolls the shim onto a
// fresh cache; the previous generation is removed during activation. The
// package also renders the equivalent browser service worker (sw.js) so
// clients that register it share the same cache name and asset list as the
// server-side shim.
package precache
