package telemetry

import (
	"testing"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local", func(c *Config) { c.Enabled = true }, false},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
		{"missing service", func(c *Config) { c.Enabled = true; c.ServiceName = "" }, true},
		{"missing version", func(c *Config) { c.Enabled = true; c.ServiceVersion = "" }, true},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}, false},
		{"rate above one", func(c *Config) { c.Enabled = true; c.Sampling.Rate = 1.5 }, true},
		{"zero interval", func(c *Config) { c.Enabled = true; c.Metrics.ExportInterval = 0 }, true},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.Shutdown.Timeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.1.2.3", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318/v1/traces", true},
		{"collector:4317", false},
		{"10.0.0.5:4317", false},
		{"https://otel.example.com", false},
		{"localhost.evil.com:4317", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isLocalEndpoint(tt.endpoint), "isLocalEndpoint(%q)", tt.endpoint)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "voicenote-staging",
		OTLPEndpoint:    "localhost:4318",
		Protocol:        "http/protobuf",
		Insecure:        true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "voicenote-staging", cfg.ServiceName)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())

	def := FromSettings(config.ObservabilityConfig{}, "")
	assert.False(t, def.Enabled)
	assert.Equal(t, "voicenote", def.ServiceName)
	assert.Equal(t, "dev", def.ServiceVersion)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4317", stripScheme("host:4317"))
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	res := newResource(cfg)

	var found bool
	for _, attr := range res.Attributes() {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, "voicenote", attr.Value.AsString())
			found = true
		}
	}
	assert.True(t, found, "service.name attribute not found")
}

func TestNewResource_Attributes(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Attributes = map[string]string{
		"voicenote.extraction.model":    "glm-4-flash",
		"voicenote.transcription.model": "glm-asr",
		"voicenote.empty":               "",
	}

	got := map[string]string{}
	for _, attr := range newResource(cfg).Attributes() {
		got[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "glm-4-flash", got["voicenote.extraction.model"])
	assert.Equal(t, "glm-asr", got["voicenote.transcription.model"])
	assert.NotContains(t, got, "voicenote.empty")
}
