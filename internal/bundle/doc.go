// Package bundle compiles template source into renderable bundles and
// memoizes them by content key.
//
// A Cache owns the on-disk layout under its root:
//
//	<root>/bundles/<key>          compiled bundle output (shared, never evicted)
//	<root>/projects/<key>-<uuid>  per-call source scaffold (removed on release)
//	<root>/locks/<key>.lock       cross-process compile lock
//	<root>/bundles.db             persistent key index
//
// Concurrent misses for one key share a single compilation.
package bundle
