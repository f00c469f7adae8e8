// Package telemetry wires OpenTelemetry tracing and metrics for consultd.
//
// Spans and instruments are exported over OTLP (gRPC or HTTP) to a
// collector. When export is disabled the package hands out the global no-op
// providers, so instrumented code never checks whether telemetry is on.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("consultd.orchestrator")
//
// NewTestTelemetry records spans and metrics in memory for tests.
package telemetry
