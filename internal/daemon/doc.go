// Package daemon coordinates the long-running clipforge process.
//
// It wires configuration, the bundle cache, the renderer, the artifact store,
// and the render API into a single lifecycle with flock-based locking to
// prevent multiple instances from wiping each other's serve directory. In
// local mode the render API shares the artifact store's listener; in delegate
// mode the daemon runs its own HTTP server on the same bind address.
//
// Keep orchestration logic here: rendering and storage rules live in their
// own packages while the daemon focuses on startup, shutdown, and status.
package daemon
