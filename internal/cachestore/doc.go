// Package cachestore persists named response caches in SQLite.
//
// A Storage holds any number of caches. Each Cache maps a request key
// (method plus absolute URL, fragment removed) to a fully buffered response.
// Writing the same key twice replaces the entry, and PutAll commits a batch
// atomically so a failed install leaves no partial cache behind.
//
// The database may be shared between a running server and CLI invocations;
// writes retry on SQLITE_BUSY with a short bounded backoff.
package cachestore
