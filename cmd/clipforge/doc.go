// Package main hosts the clipforge CLI entrypoint and command graph.
//
// The Cobra command tree runs the render daemon in the foreground (serve),
// submits render requests to a running daemon over its HTTP API, reports
// daemon and dependency status, lists cached template bundles, and
// scaffolds configuration files. Configuration resolution happens once per
// invocation so subcommands can focus on output instead of wiring.
package main
