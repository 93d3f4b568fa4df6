package retry

import (
	"os"
	"strconv"
	"time"
)

// Config controls how storage uploads are retried
type Config struct {
	Enabled      bool
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the delay between retries
}

// LoadConfig reads the RETRY_* environment variables. Out-of-range values are
// clamped rather than rejected.
func LoadConfig() Config {
	config := Config{
		Enabled:      envBool("RETRY_ENABLED", true),
		MaxRetries:   envInt("RETRY_MAX_RETRIES", 3),
		InitialDelay: envMillis("RETRY_INITIAL_DELAY_MS", 500*time.Millisecond),
		MaxDelay:     envMillis("RETRY_MAX_DELAY_MS", 5*time.Second),
	}
	return config.normalized()
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return time.Duration(v) * time.Millisecond
	}
	return fallback
}
