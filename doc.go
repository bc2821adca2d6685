// Package procspawn spawns external processes and streams their stdio back
// to the caller as byte segments and UTF-8 lines.
//
// A Builder assembles the command, arguments, environment, working
// directory, stdio configuration and destroy signal. Spawn returns a live
// Process; Output runs the process to completion and returns its buffered
// stdout/stderr in one call.
//
// On darwin, Spawn uses posix_spawn via cgo; pre-exec failures (missing
// binary, bad chdir, dup2 failure) are reported synchronously through
// posix_spawn's own return value and surfaced as typed errors in the
// parent instead of an opaque early child exit. On other unix targets it
// falls back to a fork+exec path built on syscall.ForkExec, which runs
// its own CLOEXEC-pipe handshake internally and reports the same typed
// errors from the errno it returns.
package procspawn
