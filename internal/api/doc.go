// Package api defines the JSON payloads served under /_shim/ and a small
// HTTP client the CLI uses to query a running server.
//
// DTOs use camelCase JSON tags. Internal types (shim.Status, deps.Status,
// preflight.Result) are converted here so the wire format does not change
// when those types grow fields.
package api
