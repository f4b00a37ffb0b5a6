// Package pipeline runs one scan: load the previous snapshot, extract the
// current catalog, diff, persist, then notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/catalog"
	"stockwatch/internal/diff"
	"stockwatch/internal/eventbus"
	"stockwatch/internal/extract"
	"stockwatch/internal/notifier"
	"stockwatch/internal/storage"
	"stockwatch/pkg/logx"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Deliverer sends a rendered message. *notifier.Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, msg notifier.Message) notifier.Result
}

// Config is the per-run behavior. It can be swapped with Apply between runs.
type Config struct {
	// ForceNotify sends a report even when nothing changed.
	ForceNotify bool
	// KeywordFilter keeps only items whose title contains it (case-insensitive).
	KeywordFilter string
	Format        notifier.FormatOptions
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store     storage.Store
	Extractor extract.Extractor
	Notifier  Deliverer // nil disables delivery
	Logger    logx.Logger
	Clock     func() time.Time
	// Events receives run.started and run.finished (nil = none).
	Events eventbus.Bus
}

// Report describes a finished run.
type Report struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Loaded    int // items in the previous snapshot
	Extracted int // items in the new snapshot
	Failed    int // placeholders among them
	Filtered  int // items dropped by the keyword filter

	Changes  diff.ChangeSet
	Notified bool
	Delivery notifier.Result
}

// Record converts r to the persisted run history form.
func (r Report) Record(runErr error) storage.RunRecord {
	rec := storage.RunRecord{
		ID:             r.ID,
		StartedAt:      r.StartedAt,
		Duration:       r.Duration,
		Loaded:         r.Loaded,
		Extracted:      r.Extracted,
		Failed:         r.Failed,
		Filtered:       r.Filtered,
		NewItems:       len(r.Changes.NewItems),
		PriceChanges:   len(r.Changes.PriceChanges),
		Restocks:       len(r.Changes.Restocks),
		StockIncreases: len(r.Changes.StockIncreases),
		Notified:       r.Notified,
	}
	if r.Notified {
		rec.DeliveryStatus = r.Delivery.Outcome()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

type Pipeline struct {
	run sync.Mutex // held for the duration of Run

	mu    sync.RWMutex
	cfg   Config
	ext   extract.Extractor
	notif Deliverer

	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Events == nil {
		deps.Events = eventbus.Nop{}
	}
	return &Pipeline{
		cfg:   cfg,
		ext:   deps.Extractor,
		notif: deps.Notifier,
		deps:  deps,
		log:   deps.Logger.With(logx.String("comp", "pipeline")),
	}
}

// Apply replaces the configuration used by subsequent runs.
func (p *Pipeline) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// Rewire swaps the extractor and notifier used by subsequent runs. A run in
// progress keeps the ones it started with.
func (p *Pipeline) Rewire(ext extract.Extractor, n Deliverer) {
	p.mu.Lock()
	p.ext, p.notif = ext, n
	p.mu.Unlock()
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	if p.run.TryLock() {
		p.run.Unlock()
		return false
	}
	return true
}

type wiring struct {
	cfg   Config
	ext   extract.Extractor
	notif Deliverer
}

func (p *Pipeline) current() wiring {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return wiring{cfg: p.cfg, ext: p.ext, notif: p.notif}
}

// Run performs one scan. It fails only when the listing cannot be extracted
// or the new snapshot cannot be saved; delivery problems are logged and
// reported in Report.Delivery.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	if !p.run.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer p.run.Unlock()

	w := p.current()
	cfg := w.cfg
	rep := Report{ID: uuid.NewString(), StartedAt: p.deps.Clock().UTC()}
	log := p.log.With(logx.String("run", rep.ID))
	log.Info("run started", logx.Bool("force_notify", cfg.ForceNotify))
	p.deps.Events.Publish(eventbus.Event{Type: eventbus.RunStarted, Time: rep.StartedAt, Data: rep.ID})

	err := p.scan(ctx, w, &rep, log)
	rep.Duration = p.deps.Clock().Sub(rep.StartedAt)

	rec := rep.Record(err)
	if aerr := p.deps.Store.AppendRun(ctx, rec); aerr != nil {
		log.Warn("run history append failed", logx.Err(aerr))
	}
	p.deps.Events.Publish(eventbus.Event{Type: eventbus.RunFinished, Data: rec})
	if err != nil {
		log.Error("run failed", logx.Err(err), logx.Duration("took", rep.Duration))
		return rep, err
	}
	log.Info("run finished",
		logx.Int("changes", rep.Changes.Total()),
		logx.Bool("notified", rep.Notified),
		logx.Duration("took", rep.Duration),
	)
	return rep, nil
}

func (p *Pipeline) scan(ctx context.Context, w wiring, rep *Report, log logx.Logger) error {
	cfg := w.cfg
	if w.ext == nil {
		return errors.New("extract: no extractor configured")
	}
	prev := p.deps.Store.Load(ctx)
	rep.Loaded = len(prev)

	results, err := w.ext.Extract(ctx)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	cur, filtered := p.buildSnapshot(results, cfg.KeywordFilter)
	rep.Extracted, rep.Failed, rep.Filtered = len(cur), cur.Failed(), filtered
	log.Info("extracted",
		logx.Int("items", rep.Extracted),
		logx.Int("failed", rep.Failed),
		logx.Int("filtered", rep.Filtered),
	)

	rep.Changes = diff.Diff(prev, cur)
	counts := rep.Changes.Counts()
	log.Info("diff computed",
		logx.Int("new_items", counts[diff.KindNew]),
		logx.Int("price_changes", counts[diff.KindPrice]),
		logx.Int("restocks", counts[diff.KindRestock]),
		logx.Int("stock_increases", counts[diff.KindStockIncrease]),
	)

	for _, c := range rep.Changes.PriceChanges {
		if c.Old == nil {
			continue
		}
		log.Debug("price changed",
			logx.String("key", c.Key),
			logx.Float64("old", c.Old.Price.Value),
			logx.Float64("new", c.New.Price.Value),
			logx.Float64("delta", c.PriceDelta()),
		)
	}

	// Persist before notifying: a delivery problem must not replay the same changes.
	if err := p.deps.Store.Save(ctx, cur); err != nil {
		return err
	}

	if rep.Changes.Empty() && !cfg.ForceNotify {
		log.Info("no changes; notification skipped")
		return nil
	}
	if w.notif == nil {
		log.Warn("notifier not configured; notification skipped")
		return nil
	}
	opts := cfg.Format
	if opts.Now.IsZero() {
		opts.Now = p.deps.Clock()
	}
	rep.Notified = true
	rep.Delivery = w.notif.Deliver(ctx, notifier.Format(rep.Changes, opts))
	if !rep.Delivery.Delivered && !rep.Delivery.Skipped {
		log.Warn("notification not delivered",
			logx.String("outcome", rep.Delivery.Outcome()),
			logx.Int("attempts", rep.Delivery.Attempts),
			logx.Err(rep.Delivery.Err),
		)
	}
	return nil
}

// buildSnapshot turns extractor results into a snapshot: failures become
// placeholders, the keyword filter drops non-matching titles.
func (p *Pipeline) buildSnapshot(results []extract.Result, keyword string) (catalog.Snapshot, int) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	now := p.deps.Clock().UTC()

	variants := make([]catalog.Variant, 0, len(results))
	filtered := 0
	for _, res := range results {
		if res.Err != nil {
			url := res.URL
			if url == "" {
				url = res.Variant.URL
			}
			variants = append(variants, catalog.Placeholder(url, now))
			continue
		}
		v := res.Variant
		if keyword != "" && !strings.Contains(strings.ToLower(v.Title), keyword) {
			filtered++
			continue
		}
		if v.URL == "" {
			v.URL = res.URL
		}
		if v.LastSeen.IsZero() {
			v.LastSeen = now
		}
		variants = append(variants, v.Normalize())
	}
	return catalog.NewSnapshot(variants...), filtered
}
