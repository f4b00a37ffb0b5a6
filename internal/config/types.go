package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "15s", "2m"). Zero or omitted
// fields take the component defaults when resolved.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Storage  StorageConfig  `json:"storage"`
	Webhook  WebhookConfig  `json:"webhook"`
	Schedule ScheduleConfig `json:"schedule"`
	Status   StatusConfig   `json:"status"`

	// ForceNotify sends a report even when a scan found nothing new.
	ForceNotify bool `json:"force_notify,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig describes the catalog to scan.
//
// Headless is a pointer so an omitted value can default to true while an
// explicit false still opens a visible browser.
type SourceConfig struct {
	CollectionURL string `json:"collection_url"`
	Headless      *bool  `json:"headless,omitempty"`
	KeywordFilter string `json:"keyword_filter,omitempty"`
	PageTimeout   string `json:"page_timeout,omitempty"`
	MaxPages      int    `json:"max_pages,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RemoteURL     string `json:"remote_url,omitempty"`
	DetailRetries int    `json:"detail_retries,omitempty"`
	Jitter        string `json:"jitter,omitempty"`
}

// HeadlessEnabled reports the effective headless flag (default true).
func (s SourceConfig) HeadlessEnabled() bool {
	return s.Headless == nil || *s.Headless
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// WebhookConfig configures delivery and message rendering.
// URL is a secret and is never logged.
type WebhookConfig struct {
	URL            string `json:"url"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	Title          string `json:"title,omitempty"`
	Footer         string `json:"footer,omitempty"`
	Color          *int   `json:"color,omitempty"`
	EntryCap       int    `json:"entry_cap,omitempty"`
	SizeCap        int    `json:"size_cap,omitempty"`
	MaxDescription int    `json:"max_description,omitempty"`
}

// ScheduleConfig drives daemon mode. Spec accepts cron, Go durations and HH:MM.
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StatusConfig enables the HTTP status server. Token is required for a
// non-loopback Addr and is never logged.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token,omitempty"`
}
