package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings is the file/env configurable shape of a breaker. Zero fields fall
// back to the per-dependency defaults.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// GetRedisConfig returns suggestion cache breaker settings from environment variables
func GetRedisConfig() Settings {
	return Settings{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// GetDatabaseConfig returns workflow store breaker settings from environment variables
func GetDatabaseConfig() Settings {
	return Settings{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// Merge fills zero fields of s from defaults.
func (s Settings) Merge(defaults Settings) Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = defaults.MaxRequests
	}
	if s.Interval == 0 {
		s.Interval = defaults.Interval
	}
	if s.Timeout == 0 {
		s.Timeout = defaults.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaults.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = defaults.SuccessThreshold
	}
	return s
}

// ToConfig converts Settings to circuit breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
