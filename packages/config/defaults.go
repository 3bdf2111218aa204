package config

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		TimeoutMs:     30000,
		Retries:       0,
		RetryDelayMs:  1000,
		RetryStrategy: "fixed",
		Reporters:     []string{"console"},
		Concurrency:   4,
		RateLimit:     0,
		HistoryDB:     "",
		CacheCapacity: 256,
	}
}
