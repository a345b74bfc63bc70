// internal/workers/nl-query/extract-concepts/config.go
package extractconcepts

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 5 * time.Second,
	}
}
