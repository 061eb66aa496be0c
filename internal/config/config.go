// Package config provides configuration loading for voicenote.
//
// Configuration is assembled once at startup from defaults, an optional
// YAML or TOML file and environment variables, validated, and then passed
// by value to every component. Nothing reads configuration from globals.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const minAPIKeyLength = 10

// Config holds the complete voicenote configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	Audio         AudioConfig         `koanf:"audio"`
	Zhipu         ZhipuConfig         `koanf:"zhipu"`
	Transcription GatewayConfig       `koanf:"transcription"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Log           LogConfig           `koanf:"log"`
	Observability ObservabilityConfig `koanf:"observability"`
	Events        EventsConfig        `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       ByteSize `koanf:"body_limit"`
}

// StorageConfig holds record store configuration.
type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

// AudioConfig holds audio upload limits.
type AudioConfig struct {
	MaxSize   ByteSize `koanf:"max_size"`
	AllowWebm bool     `koanf:"allow_webm"`
}

// ZhipuConfig holds credentials shared by both gateways.
type ZhipuConfig struct {
	APIKey Secret `koanf:"api_key"`
}

// GatewayConfig holds settings for one upstream AI endpoint.
type GatewayConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	Burst      int      `koanf:"burst"`
}

// ExtractionConfig adds sampling parameters to the chat gateway.
type ExtractionConfig struct {
	GatewayConfig `koanf:",squash"`
	Temperature   float64 `koanf:"temperature"`
	TopP          float64 `koanf:"top_p"`
}

// LogConfig holds logging settings. Level accepts "trace" in addition to
// the zap level names.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

// EventsConfig holds NATS event publishing settings.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// Default returns the configuration used when neither file nor environment
// provide a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			BodyLimit:       ByteSize(12 << 20),
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Audio: AudioConfig{
			MaxSize: ByteSize(10 << 20),
		},
		Transcription: GatewayConfig{
			BaseURL:    "https://api.z.ai/api/paas/v4",
			Model:      "glm-asr-2512",
			Timeout:    Duration(30 * time.Second),
			MaxRetries: 2,
			RateLimit:  5,
			Burst:      2,
		},
		Extraction: ExtractionConfig{
			GatewayConfig: GatewayConfig{
				BaseURL:    "https://open.bigmodel.cn/api/paas/v4",
				Model:      "glm-4-flash",
				Timeout:    Duration(30 * time.Second),
				MaxRetries: 2,
				RateLimit:  5,
				Burst:      2,
			},
			Temperature: 0.7,
			TopP:        0.9,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName:  "voicenote",
			OTLPEndpoint: "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
		},
		Events: EventsConfig{
			URL:     "nats://localhost:4222",
			Subject: "voicenote.records.created",
		},
	}
}

// Validate validates the configuration.
//
// Returns the first violation found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.BodyLimit <= 0 {
		return errors.New("server body limit must be positive")
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("storage data_dir is required")
	}

	if c.Audio.MaxSize <= 0 {
		return errors.New("audio max_size must be positive")
	}
	if c.Audio.MaxSize > c.Server.BodyLimit {
		return fmt.Errorf("audio max_size (%d) exceeds server body_limit (%d)", c.Audio.MaxSize, c.Server.BodyLimit)
	}

	if !c.Zhipu.APIKey.IsSet() {
		return errors.New("zhipu api_key is required (set ZHIPU_API_KEY)")
	}
	if len(c.Zhipu.APIKey.Value()) < minAPIKeyLength {
		return fmt.Errorf("zhipu api_key is too short (min %d characters)", minAPIKeyLength)
	}

	if err := c.Transcription.validate("transcription"); err != nil {
		return err
	}
	if err := c.Extraction.validate("extraction"); err != nil {
		return err
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 {
		return fmt.Errorf("extraction temperature must be between 0 and 2, got %v", c.Extraction.Temperature)
	}
	if c.Extraction.TopP <= 0 || c.Extraction.TopP > 1 {
		return fmt.Errorf("extraction top_p must be in (0, 1], got %v", c.Extraction.TopP)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Events.Enabled {
		if c.Events.URL == "" {
			return errors.New("events url is required when events are enabled")
		}
		if c.Events.Subject == "" || strings.ContainsAny(c.Events.Subject, " \t\r\n*>") {
			return fmt.Errorf("invalid events subject: %q", c.Events.Subject)
		}
	}

	return nil
}

func (g GatewayConfig) validate(name string) error {
	u, err := url.Parse(g.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s base_url must be an absolute URL, got %q", name, g.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s base_url scheme must be http or https, got %q", name, u.Scheme)
	}
	if g.Model == "" {
		return fmt.Errorf("%s model is required", name)
	}
	if g.Timeout.Duration() <= 0 {
		return fmt.Errorf("%s timeout must be positive", name)
	}
	if g.MaxRetries < 0 {
		return fmt.Errorf("%s max_retries must be >= 0", name)
	}
	if g.RateLimit <= 0 || g.Burst < 1 {
		return fmt.Errorf("%s rate_limit must be > 0 and burst >= 1", name)
	}
	return nil
}
