// internal/workers/nl-query/generate-sql/config.go
package generatesql

import "time"

type Config struct {
	Timeout           time.Duration
	Dialect           string
	DefaultSampleSize int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:           60 * time.Second,
		Dialect:           "PostgreSQL",
		DefaultSampleSize: 100,
	}
}
