package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	appDirName        = "voicenote"
)

// sections lists the top-level keys an environment variable may target.
// Variables whose first segment is not a section are ignored so that
// unrelated process environment never leaks into the config tree.
var sections = map[string]bool{
	"server":        true,
	"storage":       true,
	"audio":         true,
	"zhipu":         true,
	"transcription": true,
	"extraction":    true,
	"log":           true,
	"observability": true,
	"events":        true,
}

// envAliases maps short variable names accepted for deployment
// compatibility onto their canonical keys.
var envAliases = map[string]string{
	"DATA_DIR":       "storage.data_dir",
	"MAX_AUDIO_SIZE": "audio.max_size",
	"PORT":           "server.http_port",
}

// Load loads configuration from the default config file location and the
// environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML or TOML file, then overrides
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ZHIPU_API_KEY, SERVER_HTTP_PORT, STORAGE_DATA_DIR, ...)
//  2. Config file (~/.config/voicenote/config.yaml or config.toml)
//  3. Defaults (see Default)
//
// The file format is chosen by extension: ".toml" uses the TOML parser,
// anything else is parsed as YAML. A missing file is not an error.
//
// # Security Considerations
//
// The config file must live under ~/.config/voicenote/ or /etc/voicenote/,
// must have 0600 or 0400 permissions and must not exceed 1MB.
//
// # Environment Variable Mapping
//
// Split on the first underscore only (section.field_name):
//
//	ZHIPU_API_KEY          -> zhipu.api_key
//	SERVER_HTTP_PORT       -> server.http_port
//	EXTRACTION_TEMPERATURE -> extraction.temperature
//
// DATA_DIR, MAX_AUDIO_SIZE and PORT are accepted as aliases.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", appDirName, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}

		var parser koanf.Parser = yaml.Parser()
		if strings.EqualFold(filepath.Ext(configPath), ".toml") {
			parser = TOMLParser()
		}
		if err := k.Load(rawbytes.Provider(content), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKeyValue skips empty variables so that an exported-but-blank value
// does not clobber a default.
func envKeyValue(name, value string) (string, interface{}) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envKey(name), value
}

// envKey maps an environment variable name to a config key, or "" to skip it.
func envKey(name string) string {
	if alias, ok := envAliases[name]; ok {
		return alias
	}

	parts := strings.SplitN(strings.ToLower(name), "_", 2)
	if len(parts) != 2 || parts[1] == "" || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a TOCTOU race between check and read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: more than %d bytes", maxConfigFileSize)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/voicenote with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", appDirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link inside an allowed dir cannot point outside it.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", appDirName),
		filepath.Join("/etc", appDirName),
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDirName, appDirName)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
