// Package shim implements the offline asset cache in front of the origin.
//
// A Worker moves through the same lifecycle as a browser service worker:
// Install fetches the precache list and stores it atomically, Activate
// promotes the new cache and removes stale generations, and Fetch answers
// requests from the active cache before falling back to the network. A failed
// install leaves the worker redundant; requests then go straight to the
// origin.
package shim
