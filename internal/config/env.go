package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds the environment variables that take precedence over the
// config file. Fields are seeded from the file values before parsing, so an
// unset variable leaves the file value in place.
type envOverrides struct {
	Port       int    `env:"PORT"`
	Host       string `env:"INSTASHIM_HOST"`
	Origin     string `env:"INSTASHIM_ORIGIN"`
	APIToken   string `env:"INSTASHIM_API_TOKEN"`
	CacheDB    string `env:"INSTASHIM_CACHE_DB"`
	CacheName  string `env:"INSTASHIM_CACHE_NAME"`
	Strategy   string `env:"INSTASHIM_STRATEGY"`
	Workers    int    `env:"INSTASHIM_WORKERS"`
	FFmpegPath string `env:"FFMPEG_PATH"`
	NtfyTopic  string `env:"INSTASHIM_NTFY_TOPIC"`
	LogLevel   string `env:"INSTASHIM_LOG_LEVEL"`
	LogFormat  string `env:"INSTASHIM_LOG_FORMAT"`
}

func (c *Config) applyEnv() error {
	overrides := envOverrides{
		Port:       c.Server.Port,
		Host:       c.Server.Host,
		Origin:     c.Server.Origin,
		APIToken:   c.Server.APIToken,
		CacheDB:    c.Cache.DBPath,
		CacheName:  c.Cache.Name,
		Strategy:   c.Cache.Strategy,
		Workers:    c.Launch.Workers,
		FFmpegPath: c.Launch.FFmpegPath,
		NtfyTopic:  c.Notifications.NtfyTopic,
		LogLevel:   c.Logging.Level,
		LogFormat:  c.Logging.Format,
	}
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	c.Server.Port = overrides.Port
	c.Server.Host = overrides.Host
	c.Server.Origin = overrides.Origin
	c.Server.APIToken = overrides.APIToken
	c.Cache.DBPath = overrides.CacheDB
	c.Cache.Name = overrides.CacheName
	c.Cache.Strategy = overrides.Strategy
	c.Launch.Workers = overrides.Workers
	c.Launch.FFmpegPath = overrides.FFmpegPath
	c.Notifications.NtfyTopic = overrides.NtfyTopic
	c.Logging.Level = overrides.LogLevel
	c.Logging.Format = overrides.LogFormat
	return nil
}
