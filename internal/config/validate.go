package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stockwatch/internal/task/scheduler"
)

var knownDrivers = map[string]bool{
	"": true, "file": true, "json": true,
	"sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pg": true,
	"none": true, "memory": true,
}

var knownLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate checks required and legal values. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if strings.TrimSpace(cfg.Source.CollectionURL) == "" {
		add(errors.New("source.collection_url is required"))
	} else {
		add(checkHTTPURL("source.collection_url", cfg.Source.CollectionURL))
	}
	if cfg.Source.RemoteURL != "" {
		if u, err := url.Parse(strings.TrimSpace(cfg.Source.RemoteURL)); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add(fmt.Errorf("source.remote_url: expected ws:// or wss:// url"))
		}
	}
	add(nonNegative("source.max_pages", cfg.Source.MaxPages))
	add(nonNegative("source.rate_per_sec", cfg.Source.RatePerSec))
	add(nonNegative("source.detail_retries", cfg.Source.DetailRetries))
	_, err := cfg.BrowserOptions()
	add(err)

	if !knownDrivers[strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))] {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = cfg.StorageOptions()
	add(err)

	if strings.TrimSpace(cfg.Webhook.URL) != "" {
		add(checkHTTPURL("webhook.url", cfg.Webhook.URL))
	}
	add(nonNegative("webhook.max_attempts", cfg.Webhook.MaxAttempts))
	add(nonNegative("webhook.rate_per_sec", cfg.Webhook.RatePerSec))
	add(nonNegative("webhook.entry_cap", cfg.Webhook.EntryCap))
	add(nonNegative("webhook.size_cap", cfg.Webhook.SizeCap))
	if cfg.Webhook.MaxDescription < 0 || cfg.Webhook.MaxDescription > 4096 {
		add(fmt.Errorf("webhook.max_description: must be within 0..4096"))
	}
	if c := cfg.Webhook.Color; c != nil && (*c < 0 || *c > 0xFFFFFF) {
		add(fmt.Errorf("webhook.color: must be within 0..0xFFFFFF"))
	}
	_, err = cfg.NotifierOptions()
	add(err)

	if cfg.Schedule.Enabled {
		if err := scheduler.ValidateSchedule(cfg.ScheduleSpec()); err != nil {
			add(fmt.Errorf("schedule.spec: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	_, err = cfg.ScheduleTimeout()
	add(err)

	if cfg.Status.Enabled {
		add(cfg.StatusOptions().Check())
	}

	return errors.Join(errs...)
}

func checkHTTPURL(field, raw string) error {
	// the parse error would echo the url, which may carry a token
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: malformed url", field)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: expected an absolute http(s) url", field)
	}
	return nil
}

func nonNegative(field string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s: must be >= 0", field)
	}
	return nil
}
