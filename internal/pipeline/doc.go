// Package pipeline joins rendering and publication: one call renders a
// request and hands the bytes to the configured artifact store.
package pipeline
