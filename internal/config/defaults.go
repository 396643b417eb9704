package config

const (
	defaultHost                     = "0.0.0.0"
	defaultPort                     = 5000
	defaultOrigin                   = "http://127.0.0.1:8000"
	defaultReadHeaderTimeoutSeconds = 5
	defaultWriteTimeoutSeconds      = 60
	defaultShutdownTimeoutSeconds   = 5
	defaultCacheDBPath              = "~/.local/share/instashim/cache.db"
	defaultCachePrefix              = "insta-downloader"
	defaultStrategy                 = StrategyStaleWhileRevalidate
	defaultDeleteStale              = true
	defaultInstallConcurrency       = 4
	defaultInstallTimeoutSeconds    = 30
	defaultFetchTimeoutSeconds      = 30
	defaultManager                  = "gunicorn"
	defaultApp                      = "main_web:app"
	defaultWorkers                  = 2
	defaultNtfyTimeoutSeconds       = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

// Fetch strategies understood by the shim.
const (
	StrategyCacheFirst           = "cache-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// DefaultAssets is the fixed precache allow-list served by the downloader front end.
var DefaultAssets = []string{
	"/",
	"/static/style.css",
	"/static/script.js",
	"/static/manifest.json",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	assets := make([]string, len(DefaultAssets))
	copy(assets, DefaultAssets)
	return Config{
		Server: Server{
			Host:                     defaultHost,
			Port:                     defaultPort,
			Origin:                   defaultOrigin,
			ReadHeaderTimeoutSeconds: defaultReadHeaderTimeoutSeconds,
			WriteTimeoutSeconds:      defaultWriteTimeoutSeconds,
			ShutdownTimeoutSeconds:   defaultShutdownTimeoutSeconds,
		},
		Cache: Cache{
			DBPath:                defaultCacheDBPath,
			Prefix:                defaultCachePrefix,
			Assets:                assets,
			Strategy:              defaultStrategy,
			DeleteStale:           defaultDeleteStale,
			InstallConcurrency:    defaultInstallConcurrency,
			InstallTimeoutSeconds: defaultInstallTimeoutSeconds,
			FetchTimeoutSeconds:   defaultFetchTimeoutSeconds,
		},
		Launch: Launch{
			Manager: defaultManager,
			App:     defaultApp,
			Workers: defaultWorkers,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
