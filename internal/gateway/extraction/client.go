// Package extraction turns note text into mood, inspirations and todos by
// asking an OpenAI-compatible chat model (Zhipu GLM by default) for a JSON
// object and decoding it leniently.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultBaseBackoff = 500 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Model       string
	APIKey      config.Secret
	Timeout     time.Duration // per attempt
	MaxRetries  int
	Temperature float64
	TopP        float64
	Backoff     time.Duration // first retry delay, doubled per attempt
	Limiter     *rate.Limiter // shared across clients; nil disables limiting
	Logger      *logging.Logger
}

// OptionsFromConfig maps extraction settings onto Options. The limiter is
// left for the caller to share.
func OptionsFromConfig(ex config.ExtractionConfig, key config.Secret) Options {
	return Options{
		BaseURL:     ex.BaseURL,
		Model:       ex.Model,
		APIKey:      key,
		Timeout:     ex.Timeout.Duration(),
		MaxRetries:  ex.MaxRetries,
		Temperature: ex.Temperature,
		TopP:        ex.TopP,
	}
}

// Client is a single-request extraction client.
type Client struct {
	llm         llms.Model
	model       string
	timeout     time.Duration
	maxRetries  int
	backoff     time.Duration
	temperature float64
	topP        float64
	limiter     *rate.Limiter
	logger      *logging.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if !opts.APIKey.IsSet() {
		return nil, errors.New("extraction API key required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("extraction base URL required")
	}

	llm, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")),
		openai.WithToken(opts.APIKey.Value()),
		openai.WithModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		llm:         llm,
		model:       opts.Model,
		timeout:     timeout,
		maxRetries:  opts.MaxRetries,
		backoff:     backoff,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		limiter:     opts.Limiter,
		logger:      logger.Named("extraction"),
	}, nil
}

// Extract returns the structured content of text. Blank text yields an
// empty result without an upstream call. Failures are faults.Error values
// of kind SemanticExtraction.
func (c *Client) Extract(ctx context.Context, text string) (note.ParsedData, error) {
	if strings.TrimSpace(text) == "" {
		var empty note.ParsedData
		empty.Normalize()
		return empty, nil
	}

	start := time.Now()
	content, err := c.complete(ctx, text)
	if err != nil {
		timeout := faults.IsDeadline(err)
		c.logger.Error(ctx, "extraction request failed",
			zap.Bool("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		if timeout {
			err = fmt.Errorf("%w: %v", faults.ErrTimeout, err)
		}
		return note.ParsedData{}, faults.Unavailable(faults.ServiceSemanticExtraction, timeout, err)
	}

	parsed, dropped, err := Parse(content)
	if err != nil {
		c.logger.Error(ctx, "extraction payload rejected",
			zap.Int("content_len", len(content)),
			zap.Error(err),
		)
		return note.ParsedData{}, faults.Unavailable(faults.ServiceSemanticExtraction, false, err)
	}

	if dropped.Mood || dropped.Inspirations > 0 || dropped.Todos > 0 {
		c.logger.Warn(ctx, "extraction items dropped",
			zap.Bool("mood", dropped.Mood),
			zap.Int("inspirations", dropped.Inspirations),
			zap.Int("todos", dropped.Todos),
		)
	}
	c.logger.Info(ctx, "extraction completed",
		zap.Bool("mood", parsed.Mood != nil),
		zap.Int("inspirations", len(parsed.Inspirations)),
		zap.Int("todos", len(parsed.Todos)),
		zap.Duration("duration", time.Since(start)),
	)
	return parsed, nil
}

// Close is a no-op; the chat client holds no per-request resources.
func (c *Client) Close() error {
	return nil
}

// complete calls the chat endpoint, retrying transport failures, 429 and
// 5xx responses with exponential backoff.
func (c *Client) complete(ctx context.Context, text string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			c.logger.Debug(ctx, "retrying extraction",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, err := c.attempt(ctx, messages)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(c.temperature),
		llms.WithTopP(c.topP),
	)
	if err != nil {
		if faults.IsDeadline(err) {
			return "", err
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return "", &retryableError{err: err}
		}
		if code := statusCode(err); code == 429 || code >= 500 {
			return "", &retryableError{err: err}
		}
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrMalformed)
	}
	return resp.Choices[0].Content, nil
}

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// statusCode extracts the HTTP status from a chat client error, or 0.
func statusCode(err error) int {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// retryableError marks an error worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
