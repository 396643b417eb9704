// Package config loads, normalizes, and validates instashim configuration.
//
// Values come from three layers applied in order: repository defaults, an
// optional TOML file, and environment overrides. The environment layer is
// what makes PORT authoritative for both the front server and the launcher,
// so the exposed port and the bound port can no longer drift apart.
//
// Call Load once at startup and pass the resulting *Config down; packages
// should not re-read the environment on their own.
package config
