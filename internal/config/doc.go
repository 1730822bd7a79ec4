// Package config loads, validates, and defaults the TOML configuration for
// the dubbing daemon and CLI.
package config
