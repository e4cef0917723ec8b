// Package daemonctl is the CLI side of the daemon's HTTP API: a typed client
// for render and status calls plus an offline status snapshot used when no
// daemon is listening.
package daemonctl
