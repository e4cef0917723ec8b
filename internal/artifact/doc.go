// Package artifact publishes rendered files and returns retrieval descriptors.
//
// LocalStore keeps files on disk and serves them over HTTP behind per-file
// tokens, bounded by a disk quota, a file-count quota, and a TTL. DelegateStore
// forwards each artifact to a remote storage tool over JSON-RPC and returns the
// URL it answers with. New picks one from configuration.
package artifact
