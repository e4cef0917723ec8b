// Package preflight provides readiness checks for the filesystem paths and
// external services clipforge depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at start and logs each failure as a warning.
//   - The CLI "clipforge status" command prints the same results alongside
//     the dependency table.
//
// Checks that depend on the output mode are skipped when that mode is off.
package preflight
