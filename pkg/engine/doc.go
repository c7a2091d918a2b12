// Package engine defines the resource model shared by every stage of the
// neonlink handshake.
//
// # Resources
//
// A ProjectResource is the singleton for one logical Neon project. It owns
// its Directives, an ordered list of DatabaseResource values, at most one
// worker handle, and a lifecycle state:
//
//	waiting -> starting -> running
//	                    \-> failed_to_start
//
// Database resources are declared against a project before or after its
// worker is launched. Only the synchronizer binds connection attributes
// onto them.
//
// # Intent
//
// ResolveIntent is a pure function of the directives. It returns
// IntentProvision when any create-if-missing flag, an ephemeral branch, a
// restore or an anonymization request is present, and IntentAttach
// otherwise.
//
// # Errors
//
// Every failure surfaced by neonlink is an *EngineError carrying a code from
// the handshake taxonomy:
//
//	CONFIGURATION_ERROR    duplicate worker name, missing selector, bad masking rule
//	LAUNCH_FAILURE         template materialization or process start failed
//	HANDSHAKE_TRANSIENT    retried by the watcher, never returned to callers
//	HANDSHAKE_TIMEOUT      deadline passed; message includes the last observation
//	WORKER_FAILED          failure log present; message includes its content
//	SYNC_MISMATCH          declared database with no output entry
//	COMMAND_PRECONDITION   one-shot command on an unprovisioned project
//	COMMAND_FAILED         one-shot command exited non-zero
//	POLICY_DENIED          directives rejected by the policy gate
//
// Use errors.Is with the Err* sentinels to test for a code:
//
//	if errors.Is(err, engine.ErrHandshakeTimeout) {
//	    // ...
//	}
package engine
