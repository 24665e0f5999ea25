package config

// Defaults returns the built-in configuration. A TOML file and MACROPOOL_*
// environment variables are layered on top of these values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "macropool",
			User:          "macropool",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   20,
		},
		Market: MarketConfig{
			FeeRate:          0.03,
			MinStake:         10,
			MaxStake:         10000,
			MaxEventExposure: 50000,
			PlaceRatePerSec:  10,
			SweepInterval:    Duration(30_000_000_000), // 30s
		},
		Oracle: OracleConfig{
			Timeout: Duration(10_000_000_000), // 10s
		},
		LogLevel: "info",
	}
}
