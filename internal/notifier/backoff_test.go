package notifier

import (
	"net/http"
	"testing"
	"time"

	"stockwatch/internal/diff"
)

var emptyCS diff.ChangeSet

func TestBackoff(t *testing.T) {
	p := Policy{Base: time.Second, MaxDelay: 60 * time.Second}
	cases := []struct {
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{1, 0, time.Second},
		{2, 0, 2 * time.Second},
		{3, 0, 4 * time.Second},
		{6, 0, 32 * time.Second},
		{7, 0, 60 * time.Second},
		{20, 0, 60 * time.Second},
		{1, 90 * time.Second, 90 * time.Second},
		{3, 500 * time.Millisecond, 4 * time.Second},
		{0, 0, time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(p, tc.attempt, tc.hint); got != tc.want {
			t.Fatalf("Backoff(attempt=%d, hint=%s)=%s want %s", tc.attempt, tc.hint, got, tc.want)
		}
	}
	if got := Backoff(Policy{}, 2, 0); got != 2*DefaultRetryBase {
		t.Fatalf("zero policy: got %s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"2", 2 * time.Second, true},
		{"1.5", 1500 * time.Millisecond, true},
		{"-1", 0, false},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"soon", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseRetryAfter(tc.in, now)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRetryAfter(%q)=(%s,%v) want (%s,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
