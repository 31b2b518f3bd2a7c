package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/labourcare/clinic/internal/platform/notify"
)

const (
	DefaultPollInterval = 30 * time.Second
	loadTimeout         = 10 * time.Second
	loadKey             = "load"
)

// Loader reads one clinician's day from the queue store.
type Loader interface {
	ListForDay(ctx context.Context, clinicianID uuid.UUID, day time.Time) ([]*Entry, error)
}

// Snapshot is one rendering of a clinician's day. Entries are ordered by
// token number and must not be modified by receivers.
type Snapshot struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	Date        string    `json:"date"`
	Entries     []*Entry  `json:"entries"`
	Summary     Summary   `json:"summary"`
	LoadedAt    time.Time `json:"loaded_at"`
	Stale       bool      `json:"stale"`
	Warning     string    `json:"warning,omitempty"`
}

// Topic is the change-notification topic the snapshot renders.
func (s Snapshot) Topic() string {
	return "queue/" + s.ClinicianID.String() + "/" + s.Date
}

// Projection keeps a live view of one clinician's queue for one day. Push
// events, the poll ticker and local writes all end in Load, and concurrent
// loads share a single store read.
type Projection struct {
	clinicianID uuid.UUID
	day         time.Time
	loader      Loader
	events      notify.Subscriber
	interval    time.Duration
	logger      zerolog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current *Snapshot
	started uint64 // loads begun
	stored  uint64 // load that produced current

	lmu       sync.Mutex
	listeners []func(Snapshot)
}

func NewProjection(loader Loader, events notify.Subscriber, clinicianID uuid.UUID, day time.Time, interval time.Duration, logger zerolog.Logger) *Projection {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	day = Day(day, nil)
	return &Projection{
		clinicianID: clinicianID,
		day:         day,
		loader:      loader,
		events:      events,
		interval:    interval,
		logger: logger.With().
			Str("clinician_id", clinicianID.String()).
			Str("queue_date", FormatDay(day)).Logger(),
	}
}

func (p *Projection) Topic() string { return Topic(p.clinicianID, p.day) }

func (p *Projection) Day() time.Time { return p.day }

// OnRefresh registers fn to receive every snapshot the projection produces,
// stale ones included.
func (p *Projection) OnRefresh(fn func(Snapshot)) {
	p.lmu.Lock()
	p.listeners = append(p.listeners, fn)
	p.lmu.Unlock()
}

// Current returns the last snapshot, if any load has finished.
func (p *Projection) Current() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return *p.current, true
}

// Load reads the day from the store, joining a load already in flight. On
// failure the previous snapshot is kept, marked stale, and returned together
// with a *FetchError.
func (p *Projection) Load(ctx context.Context) (Snapshot, error) {
	v, err, _ := p.group.Do(loadKey, func() (interface{}, error) {
		// Shared by every joined caller, so no single caller's cancellation
		// may abort it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.load(lctx)
	})
	return v.(Snapshot), err
}

func (p *Projection) load(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	p.started++
	gen := p.started
	p.mu.Unlock()

	entries, err := p.loader.ListForDay(ctx, p.clinicianID, p.day)
	if err != nil {
		var ferr *FetchError
		if !errors.As(err, &ferr) {
			ferr = &FetchError{Op: "load queue", Err: err}
		}
		snap, ok := p.markStale(gen, ferr)
		if ok {
			p.emit(snap)
		}
		return snap, ferr
	}
	if entries == nil {
		entries = []*Entry{}
	}

	snap, ok := p.store(gen, Snapshot{
		ClinicianID: p.clinicianID,
		Date:        FormatDay(p.day),
		Entries:     entries,
		Summary:     Summarize(entries),
		LoadedAt:    time.Now().UTC(),
	})
	if ok {
		p.emit(snap)
	}
	return snap, nil
}

// store installs snap unless a load that began later has already finished,
// in which case that newer snapshot is returned instead.
func (p *Projection) store(gen uint64, snap Snapshot) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen < p.stored {
		return *p.current, false
	}
	p.current = &snap
	p.stored = gen
	return snap, true
}

func (p *Projection) markStale(gen uint64, err error) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen < p.stored {
		return *p.current, false
	}
	var snap Snapshot
	if p.current != nil {
		snap = *p.current
	} else {
		snap = Snapshot{
			ClinicianID: p.clinicianID,
			Date:        FormatDay(p.day),
			Entries:     []*Entry{},
		}
	}
	snap.Stale = true
	snap.Warning = "queue could not be refreshed: " + err.Error()
	p.current = &snap
	p.stored = gen
	return snap, true
}

func (p *Projection) emit(snap Snapshot) {
	p.lmu.Lock()
	fns := make([]func(Snapshot), len(p.listeners))
	copy(fns, p.listeners)
	p.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Refresh runs a load and absorbs its failure. The returned snapshot is
// always renderable.
func (p *Projection) Refresh(ctx context.Context, reason string) Snapshot {
	snap, err := p.Load(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("reason", reason).Msg("queue refresh failed, keeping last snapshot")
	} else {
		p.logger.Debug().Str("reason", reason).Int("entries", len(snap.Entries)).Msg("queue refreshed")
	}
	return snap
}

// Invalidate refreshes after a local write. A load already in flight may
// have read the store before the write, so it is not joined.
func (p *Projection) Invalidate(ctx context.Context) Snapshot {
	p.group.Forget(loadKey)
	return p.Refresh(ctx, "local write")
}

// Run keeps the projection fresh until ctx is done: an initial load, then a
// refresh on every change event and every poll tick. A lost subscription is
// re-established on the next tick.
func (p *Projection) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	sub := p.subscribe(ctx)
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	p.Refresh(ctx, "initial")

	for {
		var events <-chan notify.Event
		if sub != nil {
			events = sub.Events()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				p.logger.Warn().Msg("queue change subscription closed, falling back to polling")
				sub = nil
				continue
			}
			p.Refresh(ctx, "change event")
		case <-ticker.C:
			if sub == nil {
				sub = p.subscribe(ctx)
			}
			p.Refresh(ctx, "poll")
		}
	}
}

func (p *Projection) subscribe(ctx context.Context) notify.Subscription {
	if p.events == nil {
		return nil
	}
	sub, err := p.events.Subscribe(ctx, p.Topic())
	if err != nil {
		p.logger.Warn().Err(err).Msg("queue change subscription failed, polling only")
		return nil
	}
	return sub
}
