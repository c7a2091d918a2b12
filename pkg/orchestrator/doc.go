// Package orchestrator runs the provisioning handshake for project
// resources.
//
// For each project the Pipeline resolves the intent, passes the directives
// through an optional policy gate, configures and launches the worker,
// waits for its output and synchronizes the result onto the resources.
// A project is handshaken at most once per Pipeline: repeated ready
// signals return the Run that is already in flight.
//
// Basic usage:
//
//	p, err := orchestrator.New(orchestrator.Options{
//		Launcher:     launcher,
//		Watcher:      handshake.NewWatcher(handshake.DefaultConfig(), tel),
//		Synchronizer: synchronizer.New(tel, stores.NewRecorder(store)),
//		Telemetry:    tel,
//	})
//	if err != nil {
//		return err
//	}
//	if err := p.UpAll(ctx, projects); err != nil {
//		return err
//	}
package orchestrator
