package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLaunch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	origin, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("server.origin must be an http(s) URL, got %q", c.Server.Origin)
	}
	if origin.Host == "" {
		return fmt.Errorf("server.origin must include a host, got %q", c.Server.Origin)
	}
	return nil
}

func (c *Config) validateCache() error {
	if len(c.Cache.Assets) == 0 {
		return errors.New("cache.assets must list at least one asset")
	}
	for _, asset := range c.Cache.Assets {
		if !strings.HasPrefix(asset, "/") && !strings.HasPrefix(asset, "http://") && !strings.HasPrefix(asset, "https://") {
			return fmt.Errorf("cache.assets entry %q must be an absolute path or http(s) URL", asset)
		}
	}
	switch c.Cache.Strategy {
	case StrategyCacheFirst, StrategyStaleWhileRevalidate:
	default:
		return fmt.Errorf("cache.strategy: unsupported value %q (use %q or %q)", c.Cache.Strategy, StrategyCacheFirst, StrategyStaleWhileRevalidate)
	}
	if c.Cache.Name != "" && strings.ContainsAny(c.Cache.Name, " \t\n/") {
		return fmt.Errorf("cache.name %q must not contain whitespace or slashes", c.Cache.Name)
	}
	return nil
}

func (c *Config) validateLaunch() error {
	if !strings.Contains(c.Launch.App, ":") {
		return fmt.Errorf("launch.app must be module:object, got %q", c.Launch.App)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	topic, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (topic.Scheme != "http" && topic.Scheme != "https") || topic.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full topic URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
