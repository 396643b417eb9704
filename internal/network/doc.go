// Package network forwards requests to the origin application and buffers
// the responses so they can be both served and stored.
package network
