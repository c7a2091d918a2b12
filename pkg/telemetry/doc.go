// Package telemetry provides logging, tracing, metrics and lifecycle events
// for neonlink.
//
// The pieces are independent but usually travel together as a *Telemetry
// attached to the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Logger wraps zerolog. Components derive child loggers and tag entries
// with the project they act on:
//
//	logger := tel.Logger.NewComponentLogger("launcher").WithProject("demo")
//	logger.WithError(err).Error("worker failed to start")
//
// # Tracing
//
// Each pipeline stage (launch, watch, sync, command) runs in its own span.
// StartOperation opens the span and a matching logger:
//
//	op := telemetry.StartOperation(ctx, "watch", project.Name())
//	out, err := watcher.Watch(op.Ctx, path)
//	op.End(err)
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live on a private Prometheus registry exposed by Handler. A
// Metrics value created with metrics disabled accepts every Record call
// and does nothing.
//
// # Events
//
// EventPublisher delivers lifecycle events to subscribers in publish
// order. In async mode a single goroutine drains the queue; Shutdown waits
// for queued events.
package telemetry
