// Tracing covers one request through the note pipeline:
//
//	pipeline.process
//	├── pipeline.transcribe   (audio input only)
//	├── pipeline.extract
//	└── pipeline.persist
//
// HTTP request metrics are recorded through Meter (voicenote.http.*);
// pipeline counters live in Prometheus collectors next to the code that
// increments them.
//
// Telemetry is disabled by default. When enabled it exports over OTLP
// gRPC (or http/protobuf) to observability.otlp_endpoint. Exporter
// failures degrade the instance instead of failing startup.
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "pipeline.extract")
//	span.End()
//	tt.AssertSpanExists(t, "pipeline.extract")
package telemetry
