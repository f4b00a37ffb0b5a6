package notifier

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts   = 4
	DefaultRetryBase     = time.Second
	DefaultRetryMaxDelay = 60 * time.Second
)

// Policy is the retry schedule for webhook delivery.
type Policy struct {
	Base     time.Duration
	MaxDelay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = DefaultRetryBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryMaxDelay
	}
	return p
}

// Backoff returns how long to wait after the given failed attempt (1-based):
// Base * 2^(attempt-1), capped at MaxDelay. A server hint wins when it is longer.
func Backoff(p Policy, attempt int, hint time.Duration) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if hint > d {
		return hint
	}
	return d
}

// ParseRetryAfter reads a Retry-After value: delay seconds (fractions allowed)
// or an HTTP date. ok is false when the header is absent or unusable.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
