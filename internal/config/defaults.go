package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost            = "localhost"
	DefaultPort            = 8000
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodySize     = 1024 * 1024 // 1MB

	// Database defaults.
	DefaultDBPath       = "clofast.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultTimezone         = "UTC"
	DefaultDrainTimeout     = 30 * time.Second
	DefaultHistoryRetention = 30 * 24 * time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultMetricsPath = "/metrics"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxBodySize:     DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"http://localhost:3000"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			},
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			Timezone:         DefaultTimezone,
			DrainTimeout:     DefaultDrainTimeout,
			HistoryRetention: DefaultHistoryRetention,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}
