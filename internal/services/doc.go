// Package services provides the shared error taxonomy and context
// annotation helpers used across pipeline steps and the daemon.
package services
