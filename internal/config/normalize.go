package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeServer()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	if err := c.normalizeLaunch(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeServer() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Server.Origin = strings.TrimRight(strings.TrimSpace(c.Server.Origin), "/")
	if c.Server.Origin == "" {
		c.Server.Origin = defaultOrigin
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = defaultReadHeaderTimeoutSeconds
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = defaultWriteTimeoutSeconds
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.DBPath) == "" {
		c.Cache.DBPath = defaultCacheDBPath
	}
	if c.Cache.DBPath, err = expandPath(c.Cache.DBPath); err != nil {
		return fmt.Errorf("cache.db_path: %w", err)
	}
	c.Cache.Prefix = strings.TrimSpace(c.Cache.Prefix)
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = defaultCachePrefix
	}
	c.Cache.Name = strings.TrimSpace(c.Cache.Name)
	c.Cache.Strategy = strings.ToLower(strings.TrimSpace(c.Cache.Strategy))
	if c.Cache.Strategy == "" {
		c.Cache.Strategy = defaultStrategy
	}

	assets := make([]string, 0, len(c.Cache.Assets))
	for _, asset := range c.Cache.Assets {
		if trimmed := strings.TrimSpace(asset); trimmed != "" {
			assets = append(assets, trimmed)
		}
	}
	c.Cache.Assets = assets

	if c.Cache.InstallConcurrency <= 0 {
		c.Cache.InstallConcurrency = defaultInstallConcurrency
	}
	if c.Cache.InstallTimeoutSeconds <= 0 {
		c.Cache.InstallTimeoutSeconds = defaultInstallTimeoutSeconds
	}
	if c.Cache.FetchTimeoutSeconds <= 0 {
		c.Cache.FetchTimeoutSeconds = defaultFetchTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeLaunch() error {
	c.Launch.Manager = strings.TrimSpace(c.Launch.Manager)
	if c.Launch.Manager == "" {
		c.Launch.Manager = defaultManager
	}
	c.Launch.App = strings.TrimSpace(c.Launch.App)
	if c.Launch.App == "" {
		c.Launch.App = defaultApp
	}
	if c.Launch.Workers <= 0 {
		c.Launch.Workers = defaultWorkers
	}
	c.Launch.FFmpegPath = strings.TrimSpace(c.Launch.FFmpegPath)
	if descriptor := strings.TrimSpace(c.Launch.Descriptor); descriptor != "" {
		expanded, err := expandPath(descriptor)
		if err != nil {
			return fmt.Errorf("launch.descriptor: %w", err)
		}
		c.Launch.Descriptor = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
