package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "stockwatch/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/30 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "CRON: 0 8 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "30m", kind: SpecInterval, source: "duration", duration: 30 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 00:30", kind: SpecInterval, source: "hhmm", duration: 30 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:0s", "00:75", "-5m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"30m", "00:30", "*/30 * * * *", "@hourly", "0 */5 * * * *"} {
		if err := ValidateSchedule(raw); err != nil {
			t.Fatalf("ValidateSchedule(%q): %v", raw, err)
		}
	}
	for _, raw := range []string{"61 * * * *", "cron:* *", "whenever"} {
		if err := ValidateSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.AddSchedule("scan", "cron:99 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
	if err := s.AddSchedule("", "30m", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
}

func TestAddScheduleReplacesByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.AddSchedule("scan", "30m", 0, job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("scan", "@hourly", 0, job); err != nil {
		t.Fatal(err)
	}
	got := s.Schedules()
	if len(got) != 1 || got[0].Spec != "@hourly" {
		t.Fatalf("schedules: %+v", got)
	}
	if !s.Remove("scan") || len(s.Schedules()) != 0 {
		t.Fatal("remove failed")
	}
}

func TestJobSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	err := s.AddSchedule("scan", "1h", 0, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	job := s.jobFor(s.defs[0])

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started
	job.Run() // overlapping trigger returns immediately
	close(release)
	<-done

	info := s.Schedules()[0]
	if calls.Load() != 1 || info.Skipped != 1 || info.Runs != 1 || info.Running {
		t.Fatalf("calls=%d info=%+v", calls.Load(), info)
	}
}

func TestJobRecoversPanicsAndCountsFailures(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	_ = s.AddSchedule("boom", "1h", 0, func(context.Context) error { panic("kaboom") })
	_ = s.AddSchedule("fail", "1h", 0, func(context.Context) error { return errors.New("nope") })
	for _, d := range s.defs {
		s.jobFor(d).Run()
	}
	for _, info := range s.Schedules() {
		if info.Runs != 1 || info.Failed != 1 {
			t.Fatalf("%s: %+v", info.Name, info)
		}
	}
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var deadline atomic.Bool
	_ = s.AddSchedule("scan", "1h", 50*time.Millisecond, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		return nil
	})
	s.jobFor(s.defs[0]).Run()
	if !deadline.Load() {
		t.Fatal("job context has no deadline")
	}
}

func TestStartStopCancelsJobContext(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	s.Start(context.Background())
	if len(s.Schedules()) != 0 {
		t.Fatal("unexpected schedules")
	}
	if err := s.AddSchedule("scan", "@every 1h", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	info := s.Schedules()[0]
	if info.Next.IsZero() {
		t.Fatalf("next fire time not computed: %+v", info)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if s.jobContext().Err() == nil {
		t.Fatal("job context not canceled by Stop")
	}
}

func TestMakeIntervalScheduleWithSpread(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched, spread := makeIntervalScheduleWithSpread(time.Hour, now)
	if spread < 0 || spread >= maxStartupSpread {
		t.Fatalf("spread=%s", spread)
	}
	first := sched.Next(now)
	if want := now.Add(time.Hour + spread); !first.Equal(want) {
		t.Fatalf("first=%s want %s", first, want)
	}
}
