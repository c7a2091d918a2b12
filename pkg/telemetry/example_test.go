package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/neonlink/pkg/telemetry"
)

// Example_lifecycleEvents shows ordered delivery of state transitions.
func Example_lifecycleEvents() {
	cfg := telemetry.DisabledConfig()
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeStateChanged))

	_ = tel.Events.PublishStateChanged("run-1", "demo", "waiting", "starting", "")
	_ = tel.Events.PublishStateChanged("run-1", "demo", "starting", "running", "")

	// Output:
	// demo: waiting -> starting
	// demo: starting -> running
}

// Example_operation shows a stage wrapped in a span and a logger.
func Example_operation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "sync", "demo")
	op.Logger.Info("applying output contract")
	op.End(nil)

	fmt.Println(op.Timer.Duration() >= 0)
	// Output: true
}
