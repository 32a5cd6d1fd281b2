package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultBaseURL        = "http://127.0.0.1:8787"
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultMaxAttempts    = 10
	defaultWriteTimeout   = 10 * time.Second
	defaultHistoryLimit   = 100
	defaultBranch         = "main"
	defaultMode           = "build"

	CacheBackendBolt   = "bbolt"
	CacheBackendFile   = "file"
	CacheBackendMemory = "memory"
)

type CoreConfig struct {
	API         CoreAPIConfig         `toml:"api"`
	Stream      CoreStreamConfig      `toml:"stream"`
	Cache       CoreCacheConfig       `toml:"cache"`
	History     CoreHistoryConfig     `toml:"history"`
	Session     CoreSessionConfig     `toml:"session"`
	Credentials CoreCredentialsConfig `toml:"credentials"`
	Logging     CoreLoggingConfig     `toml:"logging"`
	Debug       CoreDebugConfig       `toml:"debug"`
	UI          CoreUIConfig          `toml:"ui"`
}

type CoreAPIConfig struct {
	BaseURL    string `toml:"base_url"`
	ControlURL string `toml:"control_url"`
	APIKey     string `toml:"api_key"`
	UserID     string `toml:"user_id"`
}

type CoreStreamConfig struct {
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
	MaxAttempts    int    `toml:"max_attempts"`
	WriteTimeout   string `toml:"write_timeout"`
}

type CoreCacheConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type CoreHistoryConfig struct {
	Limit int `toml:"limit"`
}

type CoreSessionConfig struct {
	DefaultBranch string `toml:"default_branch"`
	Mode          string `toml:"mode"`
}

type CoreCredentialsConfig struct {
	GithubToken string `toml:"github_token"`
	ModelAPIKey string `toml:"model_api_key"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

type CoreDebugConfig struct {
	StreamDebug bool `toml:"stream_debug"`
}

type CoreUIConfig struct {
	// Timestamps is relative, iso or off.
	Timestamps string `toml:"timestamps"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		API: CoreAPIConfig{
			BaseURL: defaultBaseURL,
		},
		Stream: CoreStreamConfig{
			InitialBackoff: defaultInitialBackoff.String(),
			MaxBackoff:     defaultMaxBackoff.String(),
			MaxAttempts:    defaultMaxAttempts,
			WriteTimeout:   defaultWriteTimeout.String(),
		},
		Cache: CoreCacheConfig{
			Backend: CacheBackendBolt,
		},
		History: CoreHistoryConfig{
			Limit: defaultHistoryLimit,
		},
		Session: CoreSessionConfig{
			DefaultBranch: defaultBranch,
			Mode:          defaultMode,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return loadCoreConfigFromPath(path)
}

func (c CoreConfig) BaseURL() string {
	if env := strings.TrimSpace(os.Getenv("SHIP_API_URL")); env != "" {
		return strings.TrimRight(env, "/")
	}
	base := strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base
}

// ControlURL is where session status and finished messages are recorded. It
// defaults to the API base URL.
func (c CoreConfig) ControlURL() string {
	if env := strings.TrimSpace(os.Getenv("SHIP_CONTROL_URL")); env != "" {
		return strings.TrimRight(env, "/")
	}
	control := strings.TrimRight(strings.TrimSpace(c.API.ControlURL), "/")
	if control == "" {
		return c.BaseURL()
	}
	if !strings.Contains(control, "://") {
		control = "https://" + control
	}
	return control
}

func (c CoreConfig) APIKey() string {
	if env := strings.TrimSpace(os.Getenv("SHIP_API_KEY")); env != "" {
		return env
	}
	return strings.TrimSpace(c.API.APIKey)
}

func (c CoreConfig) UserID() string {
	return strings.TrimSpace(c.API.UserID)
}

func (c CoreConfig) InitialBackoff() time.Duration {
	return parseDuration(c.Stream.InitialBackoff, defaultInitialBackoff)
}

func (c CoreConfig) MaxBackoff() time.Duration {
	maxBackoff := parseDuration(c.Stream.MaxBackoff, defaultMaxBackoff)
	if initial := c.InitialBackoff(); maxBackoff < initial {
		return initial
	}
	return maxBackoff
}

// MaxAttempts bounds consecutive reconnect attempts; a negative value means
// retry forever.
func (c CoreConfig) MaxAttempts() int {
	switch {
	case c.Stream.MaxAttempts < 0:
		return -1
	case c.Stream.MaxAttempts == 0:
		return defaultMaxAttempts
	default:
		return c.Stream.MaxAttempts
	}
}

func (c CoreConfig) WriteTimeout() time.Duration {
	return parseDuration(c.Stream.WriteTimeout, defaultWriteTimeout)
}

func (c CoreConfig) CacheBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case CacheBackendFile, "json":
		return CacheBackendFile
	case CacheBackendMemory, "none":
		return CacheBackendMemory
	default:
		return CacheBackendBolt
	}
}

// CachePath resolves the cache location for the configured backend. Memory
// caches have no path.
func (c CoreConfig) CachePath() (string, error) {
	if path := strings.TrimSpace(c.Cache.Path); path != "" {
		return resolveConfigPath(path)
	}
	switch c.CacheBackend() {
	case CacheBackendFile:
		return CacheFilePath()
	case CacheBackendMemory:
		return "", nil
	default:
		return CacheDBPath()
	}
}

func (c CoreConfig) HistoryLimit() int {
	if c.History.Limit <= 0 {
		return defaultHistoryLimit
	}
	return c.History.Limit
}

func (c CoreConfig) DefaultBranch() string {
	branch := strings.TrimSpace(c.Session.DefaultBranch)
	if branch == "" {
		return defaultBranch
	}
	return branch
}

func (c CoreConfig) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(c.Session.Mode))
	switch mode {
	case "build", "plan":
		return mode
	default:
		return defaultMode
	}
}

func (c CoreConfig) GithubToken() string {
	if env := strings.TrimSpace(os.Getenv("SHIP_GITHUB_TOKEN")); env != "" {
		return env
	}
	return strings.TrimSpace(c.Credentials.GithubToken)
}

func (c CoreConfig) ModelAPIKey() string {
	if env := strings.TrimSpace(os.Getenv("SHIP_MODEL_API_KEY")); env != "" {
		return env
	}
	return strings.TrimSpace(c.Credentials.ModelAPIKey)
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) StreamDebugEnabled() bool {
	return c.Debug.StreamDebug
}

func (c CoreConfig) Timestamps() string {
	switch value := strings.ToLower(strings.TrimSpace(c.UI.Timestamps)); value {
	case "iso", "off":
		return value
	default:
		return "relative"
	}
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
