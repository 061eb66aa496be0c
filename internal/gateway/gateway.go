// Package gateway hands out per-request clients for the two external
// language services. Clients are created for one request and closed when
// it finishes; rate limits are shared across every client of a service.
package gateway

import (
	"context"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/gateway/extraction"
	"github.com/fyrsmithlabs/voicenote/internal/gateway/transcription"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Close() error
}

// Extractor derives structured content from text.
type Extractor interface {
	Extract(ctx context.Context, text string) (note.ParsedData, error)
	Close() error
}

// Provider creates request-scoped clients.
type Provider interface {
	NewTranscriber(ctx context.Context) (Transcriber, error)
	NewExtractor(ctx context.Context) (Extractor, error)
}

// Factory is the Provider backed by the configured upstreams.
type Factory struct {
	key           config.Secret
	transcription config.GatewayConfig
	extraction    config.ExtractionConfig

	transcribeLimiter *rate.Limiter
	extractLimiter    *rate.Limiter
	logger            *logging.Logger
}

var _ Provider = (*Factory)(nil)

// NewFactory creates a Factory from cfg.
func NewFactory(cfg *config.Config, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Factory{
		key:               cfg.Zhipu.APIKey,
		transcription:     cfg.Transcription,
		extraction:        cfg.Extraction,
		transcribeLimiter: newLimiter(cfg.Transcription),
		extractLimiter:    newLimiter(cfg.Extraction.GatewayConfig),
		logger:            logger,
	}
}

// newLimiter returns nil, meaning unlimited, when no rate is configured.
func newLimiter(gw config.GatewayConfig) *rate.Limiter {
	if gw.RateLimit <= 0 {
		return nil
	}
	burst := gw.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(gw.RateLimit), burst)
}

// NewTranscriber returns a fresh transcription client.
func (f *Factory) NewTranscriber(ctx context.Context) (Transcriber, error) {
	opts := transcription.OptionsFromConfig(f.transcription, f.key)
	opts.Limiter = f.transcribeLimiter
	opts.Logger = f.logger

	c, err := transcription.New(opts)
	if err != nil {
		f.logger.Error(ctx, "failed to create transcription client", zap.Error(err))
		return nil, faults.Unavailable(faults.ServiceTranscription, false, err)
	}
	return c, nil
}

// NewExtractor returns a fresh extraction client.
func (f *Factory) NewExtractor(ctx context.Context) (Extractor, error) {
	opts := extraction.OptionsFromConfig(f.extraction, f.key)
	opts.Limiter = f.extractLimiter
	opts.Logger = f.logger

	c, err := extraction.New(opts)
	if err != nil {
		f.logger.Error(ctx, "failed to create extraction client", zap.Error(err))
		return nil, faults.Unavailable(faults.ServiceSemanticExtraction, false, err)
	}
	return c, nil
}
