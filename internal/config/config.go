package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"instashim/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains the front server bind address and upstream origin.
type Server struct {
	Host                     string `toml:"host"`
	Port                     int    `toml:"port"`
	Origin                   string `toml:"origin"`
	APIToken                 string `toml:"api_token"`
	ReadHeaderTimeoutSeconds int    `toml:"read_header_timeout_seconds"`
	WriteTimeoutSeconds      int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `toml:"shutdown_timeout_seconds"`
}

// Cache contains configuration for the precache and the named cache store.
type Cache struct {
	DBPath                string   `toml:"db_path"`
	Prefix                string   `toml:"prefix"`
	Name                  string   `toml:"name"` // Empty derives the name from the asset list
	Assets                []string `toml:"assets"`
	Strategy              string   `toml:"strategy"`
	DeleteStale           bool     `toml:"delete_stale"`
	InstallConcurrency    int      `toml:"install_concurrency"`
	InstallTimeoutSeconds int      `toml:"install_timeout_seconds"`
	FetchTimeoutSeconds   int      `toml:"fetch_timeout_seconds"`
}

// Launch contains configuration for the process manager entry command.
type Launch struct {
	Manager    string `toml:"manager"`
	App        string `toml:"app"`
	Workers    int    `toml:"workers"`
	FFmpegPath string `toml:"ffmpeg_path"`
	Descriptor string `toml:"descriptor"`
}

// Notifications contains the optional ntfy alert target.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for instashim.
//
// Configuration sections by subsystem:
//   - Server: bind address, upstream origin, and API token
//   - Cache: precache asset list, cache naming, and fetch strategy
//   - Launch: process manager command and ffmpeg location
//   - Notifications: ntfy topic for install and process alerts
//   - Logging: log format and level
type Config struct {
	Server        Server        `toml:"server"`
	Cache         Cache         `toml:"cache"`
	Launch        Launch        `toml:"launch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/instashim/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file so PORT and friends always win.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("instashim.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directory holding the cache database.
func (c *Config) EnsureDirectories() error {
	dir := c.CacheDir()
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

// CacheDir returns the directory that holds the cache database and lock file.
func (c *Config) CacheDir() string {
	if strings.TrimSpace(c.Cache.DBPath) == "" {
		return ""
	}
	return filepath.Dir(c.Cache.DBPath)
}

// LockPath returns the single-instance lock file for the front server.
func (c *Config) LockPath() string {
	return filepath.Join(c.CacheDir(), "instashim.lock")
}

// Bind returns the host:port address the front server and launcher bind.
func (c *Config) Bind() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// InstallTimeout bounds one install attempt.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Cache.InstallTimeoutSeconds) * time.Second
}

// FetchTimeout bounds one network fetch against the origin.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Cache.FetchTimeoutSeconds) * time.Second
}

// NotificationTimeout bounds one ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
