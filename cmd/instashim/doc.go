// Package main hosts the instashim CLI entrypoint and command graph.
//
// The Cobra command tree runs the offline-cache front server, inspects and
// prunes the named cache store, renders and lints the container build
// descriptor, and launches the process manager as the container entry
// command. Configuration resolution and logger setup live here so the
// subcommands stay thin; behaviour belongs in the internal packages.
package main
