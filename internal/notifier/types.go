package notifier

import (
	"errors"
	"fmt"
	"time"
)

// Message is the webhook payload: no plain content, one embed.
type Message struct {
	Content *string `json:"content"`
	Embeds  []Embed `json:"embeds"`
}

type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	Color       int    `json:"color"`
	Footer      Footer `json:"footer"`
}

type Footer struct {
	Text string `json:"text"`
}

// Text returns the rendered description of the first embed.
func (m Message) Text() string {
	if len(m.Embeds) == 0 {
		return ""
	}
	return m.Embeds[0].Description
}

// Config controls the webhook client.
type Config struct {
	Endpoint      string
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Timeout       time.Duration
	RatePerSec    int
	UserAgent     string
}

// Result is the outcome of one delivery.
type Result struct {
	Status    int // last HTTP status (0 if none)
	Attempts  int
	Delivered bool
	Skipped   bool // endpoint not configured
	Err       error
}

// Outcome is a short label for logs and run history.
func (r Result) Outcome() string {
	switch {
	case r.Delivered:
		return "delivered"
	case r.Skipped:
		return "skipped"
	case errors.Is(r.Err, ErrInvalidEndpoint):
		return "failed:endpoint"
	case r.Status != 0:
		return fmt.Sprintf("failed:%d", r.Status)
	case r.Err != nil:
		return "failed:network"
	default:
		return "failed"
	}
}
