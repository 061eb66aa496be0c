// Package logging provides structured logging with OpenTelemetry integration.
//
// Logging wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout, optional JSON file and OpenTelemetry outputs
//   - automatic context fields (trace_id, request.id, record.id)
//   - key and pattern based secret redaction
//   - per-level sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Log)
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	defer logger.Close()
//
//	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
//	logger.Info(ctx, "transcription complete", logging.TextLength("text", text))
//
// Output carries the correlation token on every line:
//
//	{"level":"info","ts":"...","msg":"transcription complete","request.id":"2f6c...","text_len":42}
//
// Note bodies are never logged; use TextLength. Keys named text,
// transcript or content are redacted by the encoder as a backstop.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "stage done")
//	tl.AssertLogged(t, zapcore.InfoLevel, "stage done")
//	tl.AssertAllCarry(t, "request.id", id)
package logging
