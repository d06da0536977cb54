package counter

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/clock"
	"github.com/aayushbajaj/keyrace/internal/storage"
)

// Store persists the counters snapshot.
type Store interface {
	LoadCounters() (storage.CountersRecord, bool, error)
	SaveCounters(rec storage.CountersRecord) error
}

// Options tune rollover retention and the minute hook.
type Options struct {
	// RetainMinutes trailing buckets survive a rollover. Zero clears the whole day at once.
	RetainMinutes int
	// RetainGrace is how long retained buckets stay before they are subtracted.
	RetainGrace time.Duration
	// OnMinute runs outside the lock whenever an event lands in a new minute.
	OnMinute func(total int64)
}

// DefaultOptions returns the stock 20 minute retention.
func DefaultOptions() Options {
	return Options{RetainMinutes: DefaultRetainMinutes, RetainGrace: DefaultRetainGrace}
}

// Snapshot is a consistent copy of the aggregator state.
type Snapshot struct {
	Counters DailyCounters
	Charts   Charts
	Seq      uint64
}

// Aggregator owns DailyCounters. All mutation happens under mu.
type Aggregator struct {
	mu     sync.Mutex
	clock  clock.Clock
	store  Store
	logger *zap.Logger
	opts   Options

	counters   DailyCounters
	charts     Charts
	lastMinute int
	seq        uint64

	// generation identifies the rollover that scheduled the current retained clear.
	generation uint64
	clearTimer clock.Timer

	subs []chan Snapshot
}

// NewAggregator creates an aggregator with zeroed counters for the current day.
func NewAggregator(c clock.Clock, store Store, logger *zap.Logger, opts Options) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetainMinutes < 0 {
		opts.RetainMinutes = 0
	}
	if opts.RetainMinutes > MinutesPerDay {
		opts.RetainMinutes = MinutesPerDay
	}
	a := &Aggregator{
		clock:      c,
		store:      store,
		logger:     logger,
		opts:       opts,
		lastMinute: -1,
	}
	now := c.Now()
	a.counters.Date = clock.DateOf(now)
	a.charts = ComputeCharts(&a.counters, now)
	return a
}

// Load restores today's counters from the store. A snapshot from another day is discarded.
func (a *Aggregator) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	today := clock.DateOf(now)
	a.resetLocked(today)

	if a.store == nil {
		return nil
	}
	rec, ok, err := a.store.LoadCounters()
	if err != nil {
		a.logger.Warn("failed to load counters, starting fresh", zap.Error(err))
		a.refreshLocked(now)
		return err
	}
	if !ok {
		a.refreshLocked(now)
		return nil
	}
	if rec.Date != today.String() {
		a.logger.Info("discarding counters from another day",
			zap.String("saved", rec.Date), zap.String("today", today.String()))
		a.refreshLocked(now)
		return nil
	}

	if len(rec.Minutes) == MinutesPerDay {
		copy(a.counters.Minutes[:], rec.Minutes)
	}
	if len(rec.Keys) == HistogramSize {
		copy(a.counters.Keys[:], rec.Keys)
	}
	if n := len(rec.Retained); n > 0 && n <= MinutesPerDay && !rec.RetainedClearAt.IsZero() {
		a.counters.Retained = append([]int64(nil), rec.Retained...)
		a.counters.RetainedClearAt = rec.RetainedClearAt
	}

	a.counters.Total = rec.Total
	if want := a.counters.MinutesSum() - a.counters.RetainedSum(); want != rec.Total {
		a.logger.Warn("saved total disagrees with minute buckets, recomputing",
			zap.Int64("saved", rec.Total), zap.Int64("buckets", want))
		a.counters.Total = want
	}

	if a.counters.Retained != nil {
		if !a.counters.RetainedClearAt.After(now) {
			a.subtractRetainedLocked()
		} else {
			a.generation++
			a.scheduleClearLocked(a.generation, a.counters.RetainedClearAt.Sub(now))
		}
	}

	a.refreshLocked(now)
	return nil
}

// Ingest counts one key event. code indexes the histogram when it is below HistogramSize.
func (a *Aggregator) Ingest(code uint16, now time.Time) {
	a.mu.Lock()

	if date := clock.DateOf(now); date != a.counters.Date {
		a.rolloverLocked(date, now)
	}

	minute := clock.MinuteOfDay(now)
	a.counters.Total++
	a.counters.Minutes[minute]++
	if int(code) < HistogramSize {
		a.counters.Keys[code]++
	}

	boundary := minute != a.lastMinute
	if boundary {
		a.lastMinute = minute
		a.charts = ComputeCharts(&a.counters, now)
	}

	a.saveLocked(now)
	a.publishLocked()
	total := a.counters.Total
	hook := a.opts.OnMinute
	a.mu.Unlock()

	if boundary && hook != nil {
		hook(total)
	}
}

// rolloverLocked starts a new day. The trailing RetainMinutes buckets are kept for
// RetainGrace so the rolling minute chart stays continuous across midnight.
func (a *Aggregator) rolloverLocked(date clock.Date, now time.Time) {
	prev := a.counters.Date
	a.stopClearLocked()
	if a.counters.Retained != nil {
		a.subtractRetainedLocked()
	}

	retain := a.opts.RetainMinutes
	start := MinutesPerDay - retain
	var carried []int64
	var carriedSum int64
	if retain > 0 && a.opts.RetainGrace > 0 {
		carried = make([]int64, retain)
		copy(carried, a.counters.Minutes[start:])
		for _, v := range carried {
			carriedSum += v
		}
	}

	a.counters = DailyCounters{Date: date}
	if carriedSum > 0 {
		copy(a.counters.Minutes[start:], carried)
		a.counters.Retained = carried
		a.counters.RetainedClearAt = now.Add(a.opts.RetainGrace)
		a.generation++
		a.scheduleClearLocked(a.generation, a.opts.RetainGrace)
	}
	a.lastMinute = -1

	a.logger.Info("day rollover",
		zap.String("from", prev.String()),
		zap.String("to", date.String()),
		zap.Int64("retained", carriedSum))
}

func (a *Aggregator) scheduleClearLocked(gen uint64, after time.Duration) {
	a.clearTimer = a.clock.AfterFunc(after, func() { a.clearRetained(gen) })
}

func (a *Aggregator) stopClearLocked() {
	if a.clearTimer != nil {
		a.clearTimer.Stop()
		a.clearTimer = nil
	}
}

// clearRetained removes the previous day's trailing buckets. A clear scheduled by an
// older rollover is ignored.
func (a *Aggregator) clearRetained(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.generation || a.counters.Retained == nil {
		return
	}
	a.clearTimer = nil
	now := a.clock.Now()
	a.subtractRetainedLocked()
	a.charts = ComputeCharts(&a.counters, now)
	a.saveLocked(now)
	a.publishLocked()
	a.logger.Debug("cleared retained minutes", zap.String("date", a.counters.Date.String()))
}

// subtractRetainedLocked leaves only today's increments in the trailing buckets.
func (a *Aggregator) subtractRetainedLocked() {
	start := MinutesPerDay - len(a.counters.Retained)
	for i, v := range a.counters.Retained {
		slot := &a.counters.Minutes[start+i]
		*slot -= v
		if *slot < 0 {
			*slot = 0
		}
	}
	a.counters.Retained = nil
	a.counters.RetainedClearAt = time.Time{}
}

func (a *Aggregator) resetLocked(date clock.Date) {
	a.stopClearLocked()
	a.generation++
	a.counters = DailyCounters{Date: date}
	a.lastMinute = -1
}

func (a *Aggregator) refreshLocked(now time.Time) {
	a.charts = ComputeCharts(&a.counters, now)
	a.publishLocked()
}

// Save writes the current counters to the store.
func (a *Aggregator) Save() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saveLocked(a.clock.Now())
}

func (a *Aggregator) saveLocked(now time.Time) {
	if a.store == nil {
		return
	}
	rec := storage.CountersRecord{
		Date:            a.counters.Date.String(),
		Total:           a.counters.Total,
		Minutes:         append([]int64(nil), a.counters.Minutes[:]...),
		Keys:            append([]int64(nil), a.counters.Keys[:]...),
		Retained:        append([]int64(nil), a.counters.Retained...),
		RetainedClearAt: a.counters.RetainedClearAt,
		UpdatedAt:       now,
	}
	if err := a.store.SaveCounters(rec); err != nil {
		a.logger.Warn("failed to save counters", zap.Error(err))
	}
}

// Snapshot returns a copy of the counters and the cached charts.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Charts recomputes every projection from the live counters.
func (a *Aggregator) Charts() Charts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ComputeCharts(&a.counters, a.clock.Now())
}

// Total returns today's keystroke count.
func (a *Aggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters.Total
}

func (a *Aggregator) snapshotLocked() Snapshot {
	return Snapshot{Counters: a.counters.clone(), Charts: a.charts, Seq: a.seq}
}

// Subscribe returns a channel that always holds the latest snapshot. Slow readers skip
// intermediate states but never see them out of order.
func (a *Aggregator) Subscribe() <-chan Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan Snapshot, 1)
	ch <- a.snapshotLocked()
	a.subs = append(a.subs, ch)
	return ch
}

func (a *Aggregator) publishLocked() {
	a.seq++
	if len(a.subs) == 0 {
		return
	}
	snap := a.snapshotLocked()
	for _, ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Close stops the pending retained clear and persists the counters.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopClearLocked()
	a.saveLocked(a.clock.Now())
}
