// Package telemetry provides the OpenTelemetry implementation of
// core.Telemetry and HTTP instrumentation for the registry client and
// service.
//
// A Provider is built from core.TelemetryConfig. With an endpoint, spans are
// exported over OTLP/gRPC; without one they are written to stdout, which is
// useful during development:
//
//	provider, err := telemetry.New(ctx, cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//
//	rt, err := core.NewAgentRuntime(ctx, agent, registry, transport,
//	    core.WithRuntimeTelemetry(provider))
//
// Spans created by the runtime are named after the operation:
// registry.register, registry.withdraw, registry.discover,
// registry.fetch_all, agent.send and agent.dispatch.
package telemetry
