// Package audio provides the in-memory audio buffer type and the pure
// transforms the render pipeline is built on: resampling, time-range
// extraction, bounded time-stretching, and loudness normalization.
package audio
