// Package logging wires log/slog with console and JSON handlers plus the
// standardized field keys used across the daemon and pipeline steps.
package logging
