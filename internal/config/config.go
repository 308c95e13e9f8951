package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTP    HTTPConfig
	Browser BrowserConfig
	Logging LoggingConfig
}

type HTTPConfig struct {
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	UserAgent       string
	AcceptLanguage  string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			RequestTimeout:  getDurationOrDefault("SDS_REQUEST_TIMEOUT", 60*time.Second),
			DownloadTimeout: getDurationOrDefault("SDS_DOWNLOAD_TIMEOUT", 120*time.Second),
			RateLimitMin:    getDurationOrDefault("SDS_RATE_LIMIT_MIN", 1*time.Second),
			RateLimitMax:    getDurationOrDefault("SDS_RATE_LIMIT_MAX", 3*time.Second),
			UserAgent:       getEnvOrDefault("SDS_USER_AGENT", defaultUserAgent),
			AcceptLanguage:  getEnvOrDefault("SDS_ACCEPT_LANGUAGE", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("SDS_BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("SDS_BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("SDS_BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("SDS_BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("SDS_BROWSER_ACCEPT_LANGUAGE", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("SDS_BROWSER_TIMEZONE", "Asia/Seoul"),
			Locale:         getEnvOrDefault("SDS_BROWSER_LOCALE", "ko-KR"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("SDS_LOG_LEVEL", "info"),
			Format: getEnvOrDefault("SDS_LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("SDS_REQUEST_TIMEOUT must be positive")
	}

	if c.HTTP.DownloadTimeout <= 0 {
		return fmt.Errorf("SDS_DOWNLOAD_TIMEOUT must be positive")
	}

	if c.HTTP.RateLimitMin > c.HTTP.RateLimitMax {
		return fmt.Errorf("SDS_RATE_LIMIT_MIN cannot be greater than SDS_RATE_LIMIT_MAX")
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
