// Package worker starts and drives the Neon worker binary.
//
// A Launcher binds exactly one worker Handle to each project resource.
// EnsureWorker materializes the worker template, computes the output path
// and builds the launch contract; Launch removes stale output and failure
// files and starts the process, which then runs independently of the
// caller's context. Output and failure files are picked up later by the
// handshake watcher.
//
// CommandExecutor runs one-shot suspend and resume commands against an
// already provisioned project with a reduced environment.
package worker
