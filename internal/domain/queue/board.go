package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labourcare/clinic/internal/platform/notify"
)

const (
	pruneInterval = time.Hour
	// LiveDaysAhead bounds how far ahead of today a day gets a running
	// projection. Other days are read once per request.
	LiveDaysAhead = 7
)

type boardKey struct {
	clinicianID uuid.UUID
	day         string
}

type boardItem struct {
	projection *Projection
	cancel     context.CancelFunc
}

// Board owns the running projections of the process, one per clinician and
// day, started on first use.
type Board struct {
	loader   Loader
	events   notify.Subscriber
	interval time.Duration
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	projections map[boardKey]*boardItem
	listeners   []func(Snapshot)
}

func NewBoard(ctx context.Context, loader Loader, events notify.Subscriber, interval time.Duration, loc *time.Location, logger zerolog.Logger) *Board {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Board{
		loader:      loader,
		events:      events,
		interval:    interval,
		loc:         loc,
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		projections: make(map[boardKey]*boardItem),
	}
	b.wg.Add(1)
	go b.prune()
	return b
}

// OnRefresh registers fn with every projection, present and future.
func (b *Board) OnRefresh(fn func(Snapshot)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	items := make([]*boardItem, 0, len(b.projections))
	for _, it := range b.projections {
		items = append(items, it)
	}
	b.mu.Unlock()
	for _, it := range items {
		it.projection.OnRefresh(fn)
	}
}

// Projection returns the running projection for the clinician's day,
// starting it if needed.
func (b *Board) Projection(clinicianID uuid.UUID, day time.Time) *Projection {
	day = Day(day, nil)
	key := boardKey{clinicianID: clinicianID, day: FormatDay(day)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if it, ok := b.projections[key]; ok {
		return it.projection
	}

	p := NewProjection(b.loader, b.events, clinicianID, day, b.interval, b.logger)
	for _, fn := range b.listeners {
		p.OnRefresh(fn)
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.projections[key] = &boardItem{projection: p, cancel: cancel}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		p.Run(ctx)
	}()
	return p
}

// Live reports whether day falls between today and LiveDaysAhead days from
// now in the clinic's timezone.
func (b *Board) Live(day time.Time) bool {
	today := Day(b.now(), b.loc)
	day = Day(day, nil)
	return !day.Before(today) && !day.After(today.AddDate(0, 0, LiveDaysAhead))
}

// Snapshot returns the current view of the clinician's day, loading it when
// the projection has not produced one yet. Days that are not live are read
// straight from the store without starting a projection.
func (b *Board) Snapshot(ctx context.Context, clinicianID uuid.UUID, day time.Time) (Snapshot, error) {
	if !b.Live(day) {
		return NewProjection(b.loader, nil, clinicianID, day, b.interval, b.logger).Load(ctx)
	}
	p := b.Projection(clinicianID, day)
	// A snapshot that never loaded is only a failure marker.
	if snap, ok := p.Current(); ok && !snap.LoadedAt.IsZero() {
		return snap, nil
	}
	return p.Load(ctx)
}

// Invalidate refreshes the clinician's day after a local write. Days nobody
// is watching are skipped.
func (b *Board) Invalidate(ctx context.Context, clinicianID uuid.UUID, day time.Time) {
	key := boardKey{clinicianID: clinicianID, day: FormatDay(Day(day, nil))}
	b.mu.Lock()
	it, ok := b.projections[key]
	b.mu.Unlock()
	if ok {
		it.projection.Invalidate(ctx)
	}
}

// Len is the number of running projections.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.projections)
}

// Prune stops projections for days before today.
func (b *Board) Prune() int {
	today := FormatDay(Day(b.now(), b.loc))
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, it := range b.projections {
		if key.day < today {
			it.cancel()
			delete(b.projections, key)
			n++
		}
	}
	return n
}

func (b *Board) prune() {
	defer b.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if n := b.Prune(); n > 0 {
				b.logger.Info().Int("count", n).Msg("stopped queue projections for past days")
			}
		}
	}
}

// Close stops every projection and waits for them to exit.
func (b *Board) Close() {
	b.cancel()
	b.wg.Wait()
}
