package config

import (
	"sort"
	"strings"

	logx "stockwatch/pkg/logx"
)

// SummarizeChange returns the changed sections and safe structured attrs for
// logging. The webhook url is a secret: only whether it is set is reported.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !sourceEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.collection_url", strings.TrimSpace(newCfg.Source.CollectionURL)),
			logx.Bool("source.headless", newCfg.Source.HeadlessEnabled()),
			logx.String("source.keyword_filter", newCfg.Source.KeywordFilter),
			logx.Int("source.max_pages", newCfg.Source.MaxPages),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if !webhookEqual(oldCfg.Webhook, newCfg.Webhook) {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.url_set", strings.TrimSpace(newCfg.Webhook.URL) != ""),
			logx.Bool("webhook.url_changed", strings.TrimSpace(oldCfg.Webhook.URL) != strings.TrimSpace(newCfg.Webhook.URL)),
			logx.Int("webhook.max_attempts", newCfg.Webhook.MaxAttempts),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", newCfg.Schedule.Spec),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.token_set", newCfg.Status.Token != ""),
		)
	}

	if oldCfg.ForceNotify != newCfg.ForceNotify {
		changed = append(changed, "force_notify")
		attrs = append(attrs, logx.Bool("force_notify", newCfg.ForceNotify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart lists changed sections that only take effect on restart.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Status != newCfg.Status {
		out = append(out, "status")
	}
	return out
}

func webhookEqual(a, b WebhookConfig) bool {
	if (a.Color == nil) != (b.Color == nil) || (a.Color != nil && *a.Color != *b.Color) {
		return false
	}
	a.Color, b.Color = nil, nil
	return a == b
}

func sourceEqual(a, b SourceConfig) bool {
	if a.HeadlessEnabled() != b.HeadlessEnabled() {
		return false
	}
	a.Headless, b.Headless = nil, nil
	return a == b
}
