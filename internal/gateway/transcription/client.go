// Package transcription converts audio to text through an OpenAI-compatible
// /audio/transcriptions endpoint (Zhipu GLM-ASR by default).
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Model      string
	APIKey     config.Secret
	Timeout    time.Duration
	MaxRetries int
	Limiter    *rate.Limiter // shared across clients; nil disables limiting
	Logger     *logging.Logger
}

// OptionsFromConfig maps gateway settings onto Options. The limiter is left
// for the caller to share.
func OptionsFromConfig(gw config.GatewayConfig, key config.Secret) Options {
	return Options{
		BaseURL:    gw.BaseURL,
		Model:      gw.Model,
		APIKey:     key,
		Timeout:    gw.Timeout.Duration(),
		MaxRetries: gw.MaxRetries,
	}
}

// Client is a single-request transcription client. Close releases its
// connections.
type Client struct {
	api       openai.Client
	transport *http.Transport
	model     string
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// New creates a Client with its own connection pool.
func New(opts Options) (*Client, error) {
	if !opts.APIKey.IsSet() {
		return nil, errors.New("transcription API key required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("transcription base URL required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	api := openai.NewClient(
		option.WithBaseURL(opts.BaseURL),
		option.WithAPIKey(opts.APIKey.Value()),
		option.WithHTTPClient(&http.Client{Transport: transport}),
		option.WithMaxRetries(opts.MaxRetries),
	)

	return &Client{
		api:       api,
		transport: transport,
		model:     opts.Model,
		timeout:   timeout,
		limiter:   opts.Limiter,
		logger:    logger.Named("transcription"),
	}, nil
}

// Transcribe returns the text spoken in audio. Audio the upstream cannot
// recognize yields "" and no error. Failures are faults.Error values of
// kind Transcription; Timeout is set when the call ran out of time.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", faults.Unavailable(faults.ServiceTranscription, faults.IsDeadline(err),
				fmt.Errorf("rate limiter: %w", err))
		}
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, contentType(filename)),
		Model: openai.AudioModel(c.model),
	}
	params.SetExtraFields(map[string]any{"stream": "false"})

	start := time.Now()
	res, err := c.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		timeout := faults.IsDeadline(err) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		fields := []zap.Field{
			zap.String("filename", filename),
			zap.Bool("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			fields = append(fields, zap.Int("status", apiErr.StatusCode))
		}
		c.logger.Error(ctx, "transcription request failed", fields...)
		if timeout {
			err = fmt.Errorf("%w: %v", faults.ErrTimeout, err)
		}
		return "", faults.Unavailable(faults.ServiceTranscription, timeout, err)
	}

	if strings.TrimSpace(res.Text) == "" {
		c.logger.Warn(ctx, "transcription returned no text", zap.String("filename", filename))
		return "", nil
	}

	c.logger.Info(ctx, "transcription completed",
		logging.TextLength("text", res.Text),
		zap.Duration("duration", time.Since(start)),
	)
	return res.Text, nil
}

// Close releases idle connections held by this client.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func contentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
