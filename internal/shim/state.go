package shim

import (
	"fmt"
	"strings"

	"instashim/internal/config"
)

// State is the worker lifecycle position.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Strategy selects how cache hits are answered.
type Strategy string

const (
	// StrategyCacheFirst serves cached entries forever without revalidation.
	StrategyCacheFirst Strategy = config.StrategyCacheFirst
	// StrategyStaleWhileRevalidate serves cached entries and refreshes them
	// in the background.
	StrategyStaleWhileRevalidate Strategy = config.StrategyStaleWhileRevalidate
)

// ParseStrategy maps a configuration value onto a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(value))); s {
	case StrategyCacheFirst, StrategyStaleWhileRevalidate:
		return s, nil
	case "":
		return StrategyStaleWhileRevalidate, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, value)
	}
}

// Source reports where a Fetch response came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceBypass  Source = "bypass"
)
