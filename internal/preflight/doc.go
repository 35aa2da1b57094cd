// Package preflight provides readiness checks for the filesystem paths
// cratemind depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a
//     directory is unusable. Low free space is only logged.
//   - The CLI "cratemind daemon status" command shows every result.
//
// The free space check is skipped for the memory backend and when
// storage.min_free_mb is 0.
package preflight
