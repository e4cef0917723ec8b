// Package config loads, normalizes, and validates clipforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPFORGE_DELEGATE_TOKEN. The Config type centralizes every knob the render
// pipeline, the artifact stores, and the CLI need, so cache, work, and serve
// directories plus delegate credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical output modes, and clear validation errors.
package config
