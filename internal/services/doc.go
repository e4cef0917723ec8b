// Package services defines shared utilities consumed by the render pipeline,
// the artifact stores, and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so every failure carries a
//     classification that callers can map onto HTTP statuses or CLI exit text.
//
// Use these helpers when wiring new pipeline code so error handling and
// observability stay uniform across packages.
package services
