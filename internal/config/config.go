// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment.
package config

import (
	"fmt"
	"time"
)

// Config holds all daemon settings. Values come from TC_* environment
// variables; every field has a usable default except the data directory
// in production deployments (the default is relative and mainly useful
// for local runs).
type Config struct {
	Listen string // HTTP listen address

	DataDir string // root of the durable store

	YTDLPPath  string // origin fetch binary
	FFmpegPath string // transcode binary

	AudioBitrateK int // constant output bitrate in kbit/s

	LocatorTTL    time.Duration // lifetime of signed access locators
	LocatorSecret string        // HMAC key for locator signing; generated when empty

	RateLimitRPM int // per-IP requests per minute on the stream route; 0 disables

	MaxConcurrentJobs int           // concurrent cache jobs; 0 = unlimited
	JobTimeout        time.Duration // whole-job watchdog; 0 = none

	RedisAddr string // optional locator cache backend
	CacheTTL  time.Duration

	LogLevel string
}

// FromEnv builds a Config from the environment with defaults applied.
func FromEnv() Config {
	return Config{
		Listen:            ParseString("TC_LISTEN", ":8080"),
		DataDir:           ParseString("TC_DATA_DIR", "./data"),
		YTDLPPath:         ParseString("TC_YTDLP_PATH", "yt-dlp"),
		FFmpegPath:        ParseString("TC_FFMPEG_PATH", "ffmpeg"),
		AudioBitrateK:     ParseInt("TC_AUDIO_BITRATE_K", 128),
		LocatorTTL:        ParseDuration("TC_LOCATOR_TTL", 15*time.Minute),
		LocatorSecret:     ParseString("TC_LOCATOR_SECRET", ""),
		RateLimitRPM:      ParseInt("TC_RATE_LIMIT_RPM", 120),
		MaxConcurrentJobs: ParseInt("TC_MAX_CONCURRENT_JOBS", 4),
		JobTimeout:        ParseDuration("TC_JOB_TIMEOUT", 0),
		RedisAddr:         ParseString("TC_REDIS_ADDR", ""),
		CacheTTL:          ParseDuration("TC_CACHE_TTL", 5*time.Minute),
		LogLevel:          ParseString("TC_LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.YTDLPPath == "" || c.FFmpegPath == "" {
		return fmt.Errorf("fetch and transcode binary paths must not be empty")
	}
	if c.AudioBitrateK < 32 || c.AudioBitrateK > 320 {
		return fmt.Errorf("audio bitrate %dk outside supported range [32k, 320k]", c.AudioBitrateK)
	}
	if c.LocatorTTL <= 0 {
		return fmt.Errorf("locator TTL must be positive")
	}
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max concurrent jobs must not be negative")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}
