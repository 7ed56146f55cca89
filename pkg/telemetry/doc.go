// Package telemetry wires observability into the plant simulator.
//
// Four pieces are bundled by Telemetry:
//
//  1. Logger wraps zerolog with plant, attack and tag fields.
//  2. Tracer hands out OpenTelemetry spans for loads, attacks and scenarios.
//  3. Metrics exports Prometheus series for ticks, tag values and attacks.
//  4. EventPublisher is an in-process bus for attack and simulation events.
//
// Every piece tolerates a nil or disabled receiver, so packages that accept
// optional telemetry can call it unconditionally.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	srv := tel.Metrics.StartMetricsServer()
//	defer srv.Close()
package telemetry
