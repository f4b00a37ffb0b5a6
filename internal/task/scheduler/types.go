package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "stockwatch/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	timeout time.Duration
	job     Job

	entryID       cron.EntryID
	startupSpread time.Duration

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// ScheduleInfo is a read-only view of a registered schedule.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	Failed  uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// runCtx is handed to jobs; Stop cancels it. Guarded by ctxMu, not mu:
	// jobs read it while restartLocked holds mu and waits for them.
	ctxMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
}
