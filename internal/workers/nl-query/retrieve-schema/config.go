// internal/workers/nl-query/retrieve-schema/config.go
package retrieveschema

import "time"

type Config struct {
	Timeout         time.Duration
	MaxContextChars int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         15 * time.Second,
		MaxContextChars: 12000,
	}
}
