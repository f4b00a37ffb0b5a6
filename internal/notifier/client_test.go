package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stockwatch/pkg/logx"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestClient(cfg Config) (*Client, *sleepRecorder) {
	c := New(cfg, logx.Nop())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

// scriptedServer answers with the given statuses in order, repeating the last one.
func scriptedServer(t *testing.T, statuses []int, header http.Header) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		calls++
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(statuses[i])
		_, _ = w.Write([]byte(`{"message":"scripted"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

func TestDeliverSuccess(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  *http.Request
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, body = r.Clone(context.Background()), string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, rec := newTestClient(Config{Endpoint: srv.URL})
	res := c.Deliver(context.Background(), Format(emptyCS, FormatOptions{Now: fixedNow}))
	if !res.Delivered || res.Attempts != 1 || res.Status != http.StatusNoContent || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outcome() != "delivered" {
		t.Fatalf("outcome=%q", res.Outcome())
	}
	if len(rec.waits) != 0 {
		t.Fatalf("unexpected sleeps %v", rec.waits)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.URL.Query().Get("wait") != "true" {
		t.Fatalf("wait=true not appended: %s", got.URL)
	}
	if got.Header.Get("Content-Type") != "application/json" || got.Header.Get("Accept") != "application/json" {
		t.Fatalf("headers: %v", got.Header)
	}
	if !strings.Contains(got.Header.Get("User-Agent"), "Mozilla") {
		t.Fatalf("user agent: %q", got.Header.Get("User-Agent"))
	}
	if got.Header.Get("Origin") != "" || got.Header.Get("Referer") != "" {
		t.Fatalf("origin/referer must not be sent")
	}
	if !strings.Contains(body, NoChangesText) {
		t.Fatalf("body: %s", body)
	}
}

func TestDeliverHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	srv, calls := scriptedServer(t, []int{http.StatusTooManyRequests, http.StatusOK}, http.Header{"Retry-After": {"3"}})

	c, rec := newTestClient(Config{Endpoint: srv.URL})
	res := c.Deliver(context.Background(), Message{})
	if !res.Delivered || res.Attempts != 2 || calls() != 2 {
		t.Fatalf("unexpected result %+v calls=%d", res, calls())
	}
	if len(rec.waits) != 1 || rec.waits[0] != 3*time.Second {
		t.Fatalf("waits=%v want [3s]", rec.waits)
	}
}

func TestDeliverExponentialBackoff(t *testing.T) {
	t.Parallel()
	srv, calls := scriptedServer(t, []int{503, 502, 403, 200}, nil)

	c, rec := newTestClient(Config{Endpoint: srv.URL})
	res := c.Deliver(context.Background(), Message{})
	if !res.Delivered || res.Attempts != 4 || calls() != 4 {
		t.Fatalf("unexpected result %+v calls=%d", res, calls())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits=%v want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Fatalf("waits=%v want %v", rec.waits, want)
		}
	}
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	srv, calls := scriptedServer(t, []int{http.StatusBadGateway}, nil)

	c, rec := newTestClient(Config{Endpoint: srv.URL, MaxAttempts: 3})
	res := c.Deliver(context.Background(), Message{})
	if res.Delivered || res.Attempts != 3 || calls() != 3 || res.Status != http.StatusBadGateway || res.Err == nil {
		t.Fatalf("unexpected result %+v calls=%d", res, calls())
	}
	if len(rec.waits) != 2 {
		t.Fatalf("waits=%v want 2 sleeps", rec.waits)
	}
	if res.Outcome() != "failed:502" {
		t.Fatalf("outcome=%q", res.Outcome())
	}
}

func TestDeliverNonRetryableStatus(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		srv, calls := scriptedServer(t, []int{status}, nil)
		c, rec := newTestClient(Config{Endpoint: srv.URL})
		res := c.Deliver(context.Background(), Message{})
		if res.Delivered || res.Attempts != 1 || calls() != 1 || res.Status != status {
			t.Fatalf("status %d: unexpected result %+v calls=%d", status, res, calls())
		}
		if len(rec.waits) != 0 {
			t.Fatalf("status %d: unexpected sleeps %v", status, rec.waits)
		}
	}
}

func TestDeliverNetworkErrorIsRetried(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, rec := newTestClient(Config{Endpoint: endpoint, MaxAttempts: 2, Timeout: time.Second})
	res := c.Deliver(context.Background(), Message{})
	if res.Delivered || res.Attempts != 2 || res.Status != 0 || res.Err == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.waits) != 1 {
		t.Fatalf("waits=%v want 1 sleep", rec.waits)
	}
	if res.Outcome() != "failed:network" {
		t.Fatalf("outcome=%q", res.Outcome())
	}
}

func TestDeliverSkipsWithoutEndpoint(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(Config{Endpoint: "   "})
	res := c.Deliver(context.Background(), Message{})
	if !res.Skipped || res.Delivered || res.Attempts != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDeliverInvalidEndpointIsNotRetried(t *testing.T) {
	t.Parallel()
	for _, endpoint := range []string{
		"https://discord.com/api/webhooks/1/se%zzcret",
		"ftp://hooks.example/1/secret",
		"discord.com/api/webhooks/1/secret",
	} {
		c, rec := newTestClient(Config{Endpoint: endpoint, MaxAttempts: 3})
		res := c.Deliver(context.Background(), Message{})
		if res.Delivered || res.Skipped || res.Attempts != 0 || !errors.Is(res.Err, ErrInvalidEndpoint) {
			t.Fatalf("%q: unexpected result %+v", endpoint, res)
		}
		if len(rec.waits) != 0 {
			t.Fatalf("%q: unexpected sleeps %v", endpoint, rec.waits)
		}
		if strings.Contains(res.Err.Error(), "secret") {
			t.Fatalf("%q: error leaks the endpoint: %v", endpoint, res.Err)
		}
		if res.Outcome() != "failed:endpoint" {
			t.Fatalf("%q: outcome=%q", endpoint, res.Outcome())
		}
	}
}

func TestDeliverStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()
	srv, calls := scriptedServer(t, []int{http.StatusServiceUnavailable}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{Endpoint: srv.URL}, logx.Nop())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	res := c.Deliver(ctx, Message{})
	if res.Delivered || res.Attempts != 1 || calls() != 1 {
		t.Fatalf("unexpected result %+v calls=%d", res, calls())
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"https://discordapp.com/api/webhooks/1/abc", "https://discord.com/api/webhooks/1/abc?wait=true"},
		{"https://discord.com/api/webhooks/1/abc?thread_id=9", "https://discord.com/api/webhooks/1/abc?thread_id=9"},
		{"  https://hooks.example/x  ", "https://hooks.example/x?wait=true"},
	}
	for _, tc := range cases {
		if got := NormalizeEndpoint(tc.in); got != tc.want {
			t.Fatalf("NormalizeEndpoint(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
