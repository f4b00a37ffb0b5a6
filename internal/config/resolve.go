package config

import (
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/extract"
	"stockwatch/internal/notifier"
	"stockwatch/internal/observability/status"
	"stockwatch/internal/pipeline"
	"stockwatch/internal/storage"
	"stockwatch/internal/task/scheduler"
	logx "stockwatch/pkg/logx"
)

const (
	DefaultStoragePath = "snapshot.json"
	DefaultStatusAddr  = "127.0.0.1:8088"
	DefaultScheduleRun = 20 * time.Minute
)

// ParseDurationField parses an optional, non-negative duration. path names
// the field in error messages ("webhook.timeout").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) StorageOptions() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(c.Storage.Path)
	if path == "" {
		path = DefaultStoragePath
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) BrowserOptions() (extract.BrowserConfig, error) {
	s := c.Source
	timeout, err := ParseDurationOrDefault("source.page_timeout", s.PageTimeout, extract.DefaultPageTimeout)
	if err != nil {
		return extract.BrowserConfig{}, err
	}
	jitter, err := ParseDurationField("source.jitter", s.Jitter)
	if err != nil {
		return extract.BrowserConfig{}, err
	}
	return extract.BrowserConfig{
		CollectionURL: strings.TrimSpace(s.CollectionURL),
		Headless:      s.HeadlessEnabled(),
		RemoteURL:     strings.TrimSpace(s.RemoteURL),
		UserAgent:     strings.TrimSpace(s.UserAgent),
		PageTimeout:   timeout,
		MaxPages:      s.MaxPages,
		DetailRetries: s.DetailRetries,
		RatePerSec:    s.RatePerSec,
		Jitter:        jitter,
	}, nil
}

func (c *Config) NotifierOptions() (notifier.Config, error) {
	w := c.Webhook
	base, err := ParseDurationOrDefault("webhook.retry_base", w.RetryBase, notifier.DefaultRetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := ParseDurationOrDefault("webhook.retry_max_delay", w.RetryMaxDelay, notifier.DefaultRetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := ParseDurationField("webhook.timeout", w.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Endpoint:      strings.TrimSpace(w.URL),
		MaxAttempts:   w.MaxAttempts,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Timeout:       timeout,
		RatePerSec:    w.RatePerSec,
		UserAgent:     strings.TrimSpace(w.UserAgent),
	}, nil
}

func (c *Config) FormatOptions() notifier.FormatOptions {
	w := c.Webhook
	return notifier.FormatOptions{
		Title:          w.Title,
		Footer:         w.Footer,
		Color:          w.Color,
		EntryCap:       w.EntryCap,
		SizeCap:        w.SizeCap,
		MaxDescription: w.MaxDescription,
	}
}

func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		ForceNotify:   c.ForceNotify,
		KeywordFilter: strings.TrimSpace(c.Source.KeywordFilter),
		Format:        c.FormatOptions(),
	}
}

func (c *Config) SchedulerOptions() scheduler.Config {
	return scheduler.Config{
		Enabled:  c.Schedule.Enabled,
		Timezone: strings.TrimSpace(c.Schedule.Timezone),
	}
}

// ScheduleSpec returns the run schedule, defaulting to every DefaultScheduleRun.
func (c *Config) ScheduleSpec() string {
	if s := strings.TrimSpace(c.Schedule.Spec); s != "" {
		return s
	}
	return DefaultScheduleRun.String()
}

// ScheduleTimeout bounds one scheduled scan (0 = none).
func (c *Config) ScheduleTimeout() (time.Duration, error) {
	return ParseDurationField("schedule.timeout", c.Schedule.Timeout)
}

func (c *Config) StatusAddr() string {
	if a := strings.TrimSpace(c.Status.Addr); a != "" {
		return a
	}
	return DefaultStatusAddr
}

func (c *Config) StatusOptions() status.Config {
	return status.Config{
		Addr:         c.StatusAddr(),
		Token:        strings.TrimSpace(c.Status.Token),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // POST /run and pprof profiles can run long
		IdleTimeout:  60 * time.Second,
	}
}
