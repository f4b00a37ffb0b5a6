package config

import (
	"os"
	"strings"
)

// Environment variables honored on top of the file. Manager reapplies them on
// every reload.
const (
	EnvWebhookURL    = "DISCORD_WEBHOOK_URL"
	EnvAlwaysNotify  = "ALWAYS_NOTIFY"
	EnvHeadless      = "HEADLESS"
	EnvKeywordFilter = "KEYWORD_FILTER"
)

// ApplyEnv overlays environment overrides onto cfg. lookup defaults to
// os.LookupEnv. It returns the names of the variables that were applied.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) []string {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var applied []string

	if v, ok := lookup(EnvWebhookURL); ok && strings.TrimSpace(v) != "" {
		cfg.Webhook.URL = strings.TrimSpace(v)
		applied = append(applied, EnvWebhookURL)
	}
	if v, ok := lookup(EnvAlwaysNotify); ok {
		cfg.ForceNotify = truthy(v)
		applied = append(applied, EnvAlwaysNotify)
	}
	if v, ok := lookup(EnvHeadless); ok {
		// anything but "0" keeps the browser headless
		h := strings.TrimSpace(v) != "0" && !strings.EqualFold(strings.TrimSpace(v), "false")
		cfg.Source.Headless = &h
		applied = append(applied, EnvHeadless)
	}
	if v, ok := lookup(EnvKeywordFilter); ok {
		cfg.Source.KeywordFilter = strings.TrimSpace(v)
		applied = append(applied, EnvKeywordFilter)
	}
	return applied
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
