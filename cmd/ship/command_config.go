package main

import (
	"errors"
	"flag"
	"io"
	"strings"

	"github.com/adhyaay-karnwal/ship/internal/config"

	toml "github.com/pelletier/go-toml/v2"
)

type ConfigCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.CoreConfig, error)
}

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"

	secretSet = "(set)"
)

type configOutput struct {
	ConfigPath  string                     `json:"config_path,omitempty" toml:"config_path,omitempty"`
	API         effectiveAPIConfig         `json:"api" toml:"api"`
	Stream      effectiveStreamConfig      `json:"stream" toml:"stream"`
	Cache       effectiveCacheConfig       `json:"cache" toml:"cache"`
	History     effectiveHistoryConfig     `json:"history" toml:"history"`
	Session     effectiveSessionConfig     `json:"session" toml:"session"`
	Credentials effectiveCredentialsConfig `json:"credentials" toml:"credentials"`
	Logging     effectiveLoggingConfig     `json:"logging" toml:"logging"`
	Debug       effectiveDebugConfig       `json:"debug" toml:"debug"`
	UI          effectiveUIConfig          `json:"ui" toml:"ui"`
}

type effectiveAPIConfig struct {
	BaseURL    string `json:"base_url" toml:"base_url"`
	ControlURL string `json:"control_url" toml:"control_url"`
	APIKey     string `json:"api_key,omitempty" toml:"api_key,omitempty"`
	UserID     string `json:"user_id,omitempty" toml:"user_id,omitempty"`
}

type effectiveStreamConfig struct {
	InitialBackoff string `json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     string `json:"max_backoff" toml:"max_backoff"`
	MaxAttempts    int    `json:"max_attempts" toml:"max_attempts"`
	WriteTimeout   string `json:"write_timeout" toml:"write_timeout"`
}

type effectiveCacheConfig struct {
	Backend string `json:"backend" toml:"backend"`
	Path    string `json:"path,omitempty" toml:"path,omitempty"`
}

type effectiveHistoryConfig struct {
	Limit int `json:"limit" toml:"limit"`
}

type effectiveSessionConfig struct {
	DefaultBranch string `json:"default_branch" toml:"default_branch"`
	Mode          string `json:"mode" toml:"mode"`
}

type effectiveCredentialsConfig struct {
	GithubToken string `json:"github_token,omitempty" toml:"github_token,omitempty"`
	ModelAPIKey string `json:"model_api_key,omitempty" toml:"model_api_key,omitempty"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level"`
}

type effectiveDebugConfig struct {
	StreamDebug bool `json:"stream_debug" toml:"stream_debug"`
}

type effectiveUIConfig struct {
	Timestamps string `json:"timestamps" toml:"timestamps"`
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.LoadCoreConfig,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	format := fs.String("format", configFormatJSON, "output format: json|toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolvedFormat, err := resolveConfigFormat(*format)
	if err != nil {
		return err
	}
	cfg := config.DefaultCoreConfig()
	if !*defaults {
		cfg, err = c.loadConfig()
		if err != nil {
			return err
		}
	}
	payload, err := buildConfigOutput(cfg)
	if err != nil {
		return err
	}
	return writeConfigOutput(c.stdout, resolvedFormat, payload)
}

// buildConfigOutput reports the values the client will actually use, with
// defaults applied and secrets masked.
func buildConfigOutput(cfg config.CoreConfig) (configOutput, error) {
	out := configOutput{
		API: effectiveAPIConfig{
			BaseURL:    cfg.BaseURL(),
			ControlURL: cfg.ControlURL(),
			APIKey:     maskSecret(cfg.APIKey()),
			UserID:     cfg.UserID(),
		},
		Stream: effectiveStreamConfig{
			InitialBackoff: cfg.InitialBackoff().String(),
			MaxBackoff:     cfg.MaxBackoff().String(),
			MaxAttempts:    cfg.MaxAttempts(),
			WriteTimeout:   cfg.WriteTimeout().String(),
		},
		Cache: effectiveCacheConfig{
			Backend: cfg.CacheBackend(),
		},
		History: effectiveHistoryConfig{
			Limit: cfg.HistoryLimit(),
		},
		Session: effectiveSessionConfig{
			DefaultBranch: cfg.DefaultBranch(),
			Mode:          cfg.Mode(),
		},
		Credentials: effectiveCredentialsConfig{
			GithubToken: maskSecret(cfg.GithubToken()),
			ModelAPIKey: maskSecret(cfg.ModelAPIKey()),
		},
		Logging: effectiveLoggingConfig{
			Level: cfg.LogLevel(),
		},
		Debug: effectiveDebugConfig{
			StreamDebug: cfg.StreamDebugEnabled(),
		},
		UI: effectiveUIConfig{
			Timestamps: cfg.Timestamps(),
		},
	}
	if cfg.CacheBackend() != config.CacheBackendMemory {
		path, err := cfg.CachePath()
		if err != nil {
			return configOutput{}, err
		}
		out.Cache.Path = path
	}
	path, err := config.CoreConfigPath()
	if err != nil {
		return configOutput{}, err
	}
	out.ConfigPath = path
	return out, nil
}

func maskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return secretSet
}

func writeConfigOutput(out io.Writer, format string, payload any) error {
	switch format {
	case configFormatJSON:
		return writeJSON(out, payload)
	case configFormatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return errors.New("unsupported format")
	}
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	default:
		return "", errors.New("invalid format: must be json or toml")
	}
}
