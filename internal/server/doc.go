// Package server hosts the cache shim over HTTP.
//
// Requests under /_shim/ are served by the shim itself (status, metrics,
// health, manual reinstall), /sw.js returns the rendered browser worker, and
// every other request is answered by the shim worker: from the active cache
// when possible, otherwise by forwarding to the origin. Only one server may
// use a cache database at a time; a flock next to the database enforces it.
package server
