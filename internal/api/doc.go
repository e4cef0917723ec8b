// Package api exposes the render pipeline over HTTP and defines the JSON
// payloads shared by the HTTP surface and the CLI.
//
// # Routes
//
// POST /api/render/video and POST /api/render/image decode a JSON request,
// run it through the pipeline, and answer with the published outcome.
// GET /api/status reports daemon state when a status source is configured.
//
// # Errors
//
// Failures are written as {"error": "..."} with the status chosen by
// services.HTTPStatus: validation 400, oversized artifacts 413, render and
// delegate failures 502, render timeouts 504, anything unclassified 500.
//
// # Authentication
//
// When a token is configured every route requires "Authorization: Bearer
// <token>". File retrieval on the artifact store is authorized by per-file
// tokens instead and never goes through this middleware.
package api
