package counter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aayushbajaj/keyrace/internal/clock"
	"github.com/aayushbajaj/keyrace/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	rec     storage.CountersRecord
	ok      bool
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) LoadCounters() (storage.CountersRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, m.ok, m.loadErr
}

func (m *memStore) SaveCounters(rec storage.CountersRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rec = rec
	m.ok = true
	m.saves++
	return nil
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func newTestAggregator(t *testing.T, start time.Time, opts Options) (*Aggregator, *clock.Manual, *memStore) {
	t.Helper()
	clk := clock.NewManual(start)
	store := &memStore{}
	return NewAggregator(clk, store, nil, opts), clk, store
}

// typeAt moves the clock to now and ingests n presses of code.
func typeAt(a *Aggregator, clk *clock.Manual, now time.Time, code uint16, n int) {
	clk.Set(now)
	for i := 0; i < n; i++ {
		a.Ingest(code, now)
	}
}

func TestIngestCountsTotalMinutesAndKeys(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 9, 0), 'a', 3)
	typeAt(a, clk, at(1, 9, 1), 'b', 2)

	snap := a.Snapshot()
	c := snap.Counters
	if c.Total != 5 {
		t.Errorf("Total = %d, want 5", c.Total)
	}
	if c.Minutes[540] != 3 || c.Minutes[541] != 2 {
		t.Errorf("Minutes[540..541] = %d,%d, want 3,2", c.Minutes[540], c.Minutes[541])
	}
	if c.Keys['a'] != 3 || c.Keys['b'] != 2 {
		t.Errorf("Keys a,b = %d,%d, want 3,2", c.Keys['a'], c.Keys['b'])
	}
	if c.Total != c.MinutesSum() {
		t.Errorf("Total %d != sum of minutes %d", c.Total, c.MinutesSum())
	}
}

func TestIngestIgnoresOutOfRangeCodeInHistogram(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 9, 0), 300, 1)
	typeAt(a, clk, at(1, 9, 0), 65535, 1)

	c := a.Snapshot().Counters
	if c.Total != 2 {
		t.Errorf("Total = %d, want 2", c.Total)
	}
	if c.Minutes[540] != 2 {
		t.Errorf("Minutes[540] = %d, want 2", c.Minutes[540])
	}
	var hist int64
	for _, v := range c.Keys {
		hist += v
	}
	if hist != 0 {
		t.Errorf("histogram sum = %d, want 0", hist)
	}
}

func TestRolloverRetainsTrailingWindowUntilDeferredClear(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 1, 40), 'x', 4)   // slot 100
	typeAt(a, clk, at(1, 23, 45), 'y', 7)  // slot 1425
	typeAt(a, clk, at(1, 23, 59), 'z', 11) // slot 1439

	rollover := at(2, 0, 5)
	typeAt(a, clk, rollover, 'k', 1) // slot 5

	c := a.Snapshot().Counters
	if c.Date != clock.DateOf(rollover) {
		t.Fatalf("Date = %v, want %v", c.Date, clock.DateOf(rollover))
	}
	if c.Total != 1 {
		t.Errorf("Total after rollover = %d, want 1", c.Total)
	}
	for i := 0; i < MinutesPerDay-DefaultRetainMinutes; i++ {
		want := int64(0)
		if i == 5 {
			want = 1
		}
		if c.Minutes[i] != want {
			t.Fatalf("Minutes[%d] = %d, want %d", i, c.Minutes[i], want)
		}
	}
	if c.Minutes[1425] != 7 || c.Minutes[1439] != 11 {
		t.Errorf("retained slots = %d,%d, want 7,11", c.Minutes[1425], c.Minutes[1439])
	}
	if c.Keys['x'] != 0 || c.Keys['k'] != 1 {
		t.Errorf("histogram not reset: x=%d k=%d", c.Keys['x'], c.Keys['k'])
	}
	if c.Total != c.MinutesSum()-c.RetainedSum() {
		t.Errorf("Total %d != minutes %d - retained %d", c.Total, c.MinutesSum(), c.RetainedSum())
	}
	if got := c.RetainedClearAt; !got.Equal(rollover.Add(DefaultRetainGrace)) {
		t.Errorf("RetainedClearAt = %v, want %v", got, rollover.Add(DefaultRetainGrace))
	}

	clk.Advance(DefaultRetainGrace - time.Second)
	if a.Snapshot().Counters.Minutes[1439] != 11 {
		t.Fatal("retained slots cleared before the grace period elapsed")
	}

	clk.Advance(time.Second)
	c = a.Snapshot().Counters
	for i := MinutesPerDay - DefaultRetainMinutes; i < MinutesPerDay; i++ {
		if c.Minutes[i] != 0 {
			t.Errorf("Minutes[%d] = %d after deferred clear, want 0", i, c.Minutes[i])
		}
	}
	if c.Retained != nil || !c.RetainedClearAt.IsZero() {
		t.Errorf("retained state not cleared: %v %v", c.Retained, c.RetainedClearAt)
	}
	if c.Total != c.MinutesSum() {
		t.Errorf("Total %d != sum of minutes %d", c.Total, c.MinutesSum())
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestDeferredClearKeepsTodaysIncrementsInTrailingSlots(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 23, 50), 'a', 5) // slot 1430
	// First keystroke of the next day lands late enough to share the trailing window.
	typeAt(a, clk, at(2, 23, 30), 'b', 1)
	typeAt(a, clk, at(2, 23, 50), 'c', 2) // slot 1430 again, today

	c := a.Snapshot().Counters
	if c.Minutes[1430] != 7 {
		t.Fatalf("Minutes[1430] = %d before clear, want 7", c.Minutes[1430])
	}
	if c.Total != 3 {
		t.Fatalf("Total = %d, want 3", c.Total)
	}

	clk.Advance(DefaultRetainGrace)
	c = a.Snapshot().Counters
	if c.Minutes[1430] != 2 {
		t.Errorf("Minutes[1430] = %d after clear, want 2", c.Minutes[1430])
	}
	if c.Total != c.MinutesSum() {
		t.Errorf("Total %d != sum of minutes %d", c.Total, c.MinutesSum())
	}
}

func TestStaleDeferredClearIsIgnored(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 23, 59), 'a', 3)
	typeAt(a, clk, at(2, 0, 0), 'b', 1)
	firstGen := a.generation

	// Without the first clear having fired, the clock jumps a day and types in the window.
	typeAt(a, clk, at(2, 23, 59), 'c', 4)
	typeAt(a, clk, at(3, 0, 1), 'd', 1)
	if a.generation == firstGen {
		t.Fatal("second rollover did not start a new generation")
	}

	// Firing the first rollover's callback by hand must not touch the new window.
	a.clearRetained(firstGen)
	c := a.Snapshot().Counters
	if c.Minutes[1439] != 4 {
		t.Fatalf("stale clear altered Minutes[1439] = %d, want 4", c.Minutes[1439])
	}

	clk.Advance(DefaultRetainGrace)
	c = a.Snapshot().Counters
	if c.Minutes[1439] != 0 {
		t.Errorf("Minutes[1439] = %d after clear, want 0", c.Minutes[1439])
	}
	if c.Total != 1 || c.Total != c.MinutesSum() {
		t.Errorf("Total = %d, sum = %d, want both 1", c.Total, c.MinutesSum())
	}
}

func TestRolloverWithoutRetentionClearsEverything(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), Options{})

	typeAt(a, clk, at(1, 23, 59), 'a', 3)
	typeAt(a, clk, at(2, 0, 0), 'b', 1)

	c := a.Snapshot().Counters
	if c.Minutes[1439] != 0 || c.Retained != nil {
		t.Errorf("trailing window kept without retention: %d %v", c.Minutes[1439], c.Retained)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestRolloverComparesYear(t *testing.T) {
	start := time.Date(2023, time.March, 1, 12, 0, 0, 0, time.UTC)
	a, clk, _ := newTestAggregator(t, start, DefaultOptions())
	typeAt(a, clk, start, 'a', 2)

	next := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	typeAt(a, clk, next, 'a', 1)

	if got := a.Total(); got != 1 {
		t.Errorf("Total = %d, want 1 after same day-of-month a year later", got)
	}
}

func TestMinuteHookFiresOncePerMinute(t *testing.T) {
	var mu sync.Mutex
	var totals []int64
	opts := DefaultOptions()
	opts.OnMinute = func(total int64) {
		mu.Lock()
		totals = append(totals, total)
		mu.Unlock()
	}
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), opts)

	typeAt(a, clk, at(1, 9, 0), 'a', 3)
	typeAt(a, clk, at(1, 9, 1), 'a', 2)
	typeAt(a, clk, at(1, 9, 1), 'a', 1)
	typeAt(a, clk, at(1, 9, 5), 'a', 1)

	mu.Lock()
	defer mu.Unlock()
	want := []int64{1, 4, 7}
	if len(totals) != len(want) {
		t.Fatalf("hook calls = %v, want %v", totals, want)
	}
	for i := range want {
		if totals[i] != want[i] {
			t.Errorf("hook call %d total = %d, want %d", i, totals[i], want[i])
		}
	}
}

func TestChartsRefreshOnMinuteBoundary(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 9, 0), 'a', 1)
	typeAt(a, clk, at(1, 9, 0), 'a', 4)
	cached := a.Snapshot().Charts
	if got := cached.Minutes[MinutesChartPoints-1]; got != 1 {
		t.Errorf("cached current minute = %d, want 1 until the next boundary", got)
	}
	if got := a.Charts().Minutes[MinutesChartPoints-1]; got != 5 {
		t.Errorf("live current minute = %d, want 5", got)
	}

	typeAt(a, clk, at(1, 9, 1), 'a', 1)
	cached = a.Snapshot().Charts
	if cached.Minutes[MinutesChartPoints-2] != 5 || cached.Minutes[MinutesChartPoints-1] != 1 {
		t.Errorf("cached chart tail = %v, want [... 5 1]", cached.Minutes[MinutesChartPoints-2:])
	}
	if cached.Keys[0] != 6 {
		t.Errorf("cached keys chart a = %d, want 6", cached.Keys[0])
	}
}

func TestIngestSavesSnapshot(t *testing.T) {
	a, clk, store := newTestAggregator(t, at(1, 9, 0), DefaultOptions())

	typeAt(a, clk, at(1, 9, 0), 'a', 3)

	if store.saves != 3 {
		t.Errorf("saves = %d, want 3", store.saves)
	}
	if store.rec.Date != "2024-03-01" || store.rec.Total != 3 {
		t.Errorf("saved record = %s/%d, want 2024-03-01/3", store.rec.Date, store.rec.Total)
	}
	if len(store.rec.Minutes) != MinutesPerDay || len(store.rec.Keys) != HistogramSize {
		t.Errorf("saved arrays have lengths %d/%d", len(store.rec.Minutes), len(store.rec.Keys))
	}
}

func TestLoadRestoresSameDay(t *testing.T) {
	a, clk, store := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	typeAt(a, clk, at(1, 9, 0), 'q', 4)

	clk.Set(at(1, 15, 0))
	b := NewAggregator(clk, store, nil, DefaultOptions())
	if err := b.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := b.Snapshot().Counters
	if c.Total != 4 || c.Minutes[540] != 4 || c.Keys['q'] != 4 {
		t.Errorf("restored total=%d minute=%d q=%d, want 4/4/4", c.Total, c.Minutes[540], c.Keys['q'])
	}
}

func TestLoadDiscardsOtherDay(t *testing.T) {
	a, clk, store := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	typeAt(a, clk, at(1, 9, 0), 'q', 4)

	clk.Set(at(3, 9, 0))
	b := NewAggregator(clk, store, nil, DefaultOptions())
	if err := b.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := b.Snapshot().Counters
	if c.Total != 0 || c.MinutesSum() != 0 {
		t.Errorf("stale snapshot restored: total=%d sum=%d", c.Total, c.MinutesSum())
	}
	if c.Date != clock.DateOf(at(3, 9, 0)) {
		t.Errorf("Date = %v, want today", c.Date)
	}
}

func TestLoadRecomputesInconsistentTotal(t *testing.T) {
	clk := clock.NewManual(at(1, 9, 0))
	minutes := make([]int64, MinutesPerDay)
	minutes[10] = 6
	store := &memStore{ok: true, rec: storage.CountersRecord{
		Date:    "2024-03-01",
		Total:   99,
		Minutes: minutes,
		Keys:    make([]int64, HistogramSize),
	}}

	a := NewAggregator(clk, store, nil, DefaultOptions())
	if err := a.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := a.Total(); got != 6 {
		t.Errorf("Total = %d, want 6", got)
	}
}

func TestLoadReschedulesPendingClear(t *testing.T) {
	clk := clock.NewManual(at(2, 0, 10))
	minutes := make([]int64, MinutesPerDay)
	minutes[5] = 1
	minutes[1439] = 8
	retained := make([]int64, DefaultRetainMinutes)
	retained[DefaultRetainMinutes-1] = 8
	store := &memStore{ok: true, rec: storage.CountersRecord{
		Date:            "2024-03-02",
		Total:           1,
		Minutes:         minutes,
		Keys:            make([]int64, HistogramSize),
		Retained:        retained,
		RetainedClearAt: at(2, 0, 25),
	}}

	a := NewAggregator(clk, store, nil, DefaultOptions())
	if err := a.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := a.Snapshot().Counters.Minutes[1439]; got != 8 {
		t.Fatalf("Minutes[1439] = %d before clear, want 8", got)
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.Pending())
	}

	clk.Advance(15 * time.Minute)
	c := a.Snapshot().Counters
	if c.Minutes[1439] != 0 || c.Total != c.MinutesSum() {
		t.Errorf("after clear Minutes[1439]=%d total=%d sum=%d", c.Minutes[1439], c.Total, c.MinutesSum())
	}
}

func TestLoadAppliesOverdueClear(t *testing.T) {
	clk := clock.NewManual(at(2, 1, 0))
	minutes := make([]int64, MinutesPerDay)
	minutes[1420] = 3
	retained := make([]int64, DefaultRetainMinutes)
	retained[0] = 3
	store := &memStore{ok: true, rec: storage.CountersRecord{
		Date:            "2024-03-02",
		Minutes:         minutes,
		Keys:            make([]int64, HistogramSize),
		Retained:        retained,
		RetainedClearAt: at(2, 0, 20),
	}}

	a := NewAggregator(clk, store, nil, DefaultOptions())
	if err := a.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := a.Snapshot().Counters
	if c.Minutes[1420] != 0 || c.Retained != nil {
		t.Errorf("overdue clear not applied: %d %v", c.Minutes[1420], c.Retained)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.Pending())
	}
}

func TestLoadErrorStartsFresh(t *testing.T) {
	clk := clock.NewManual(at(1, 9, 0))
	store := &memStore{loadErr: errors.New("disk on fire")}

	a := NewAggregator(clk, store, nil, DefaultOptions())
	if err := a.Load(); err == nil {
		t.Fatal("expected load error")
	}
	a.Ingest('a', clk.Now())
	if got := a.Total(); got != 1 {
		t.Errorf("Total = %d, want 1", got)
	}
}

func TestSaveErrorDoesNotStopCounting(t *testing.T) {
	a, clk, store := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	store.saveErr = errors.New("read-only")

	typeAt(a, clk, at(1, 9, 0), 'a', 2)
	if got := a.Total(); got != 2 {
		t.Errorf("Total = %d, want 2", got)
	}
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	ch := a.Subscribe()

	first := <-ch
	if first.Counters.Total != 0 {
		t.Errorf("initial snapshot total = %d, want 0", first.Counters.Total)
	}

	typeAt(a, clk, at(1, 9, 0), 'a', 5)
	latest := <-ch
	if latest.Counters.Total != 5 {
		t.Errorf("latest snapshot total = %d, want 5", latest.Counters.Total)
	}
	if latest.Seq <= first.Seq {
		t.Errorf("Seq did not advance: %d -> %d", first.Seq, latest.Seq)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra snapshot with total %d", extra.Counters.Total)
	default:
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	typeAt(a, clk, at(1, 23, 59), 'a', 1)
	typeAt(a, clk, at(2, 0, 0), 'a', 1)

	snap := a.Snapshot()
	snap.Counters.Retained[DefaultRetainMinutes-1] = 1000
	if got := a.Snapshot().Counters.Retained[DefaultRetainMinutes-1]; got != 1 {
		t.Errorf("snapshot aliases live state: retained = %d", got)
	}
}

func TestCloseStopsPendingClear(t *testing.T) {
	a, clk, store := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	typeAt(a, clk, at(1, 23, 59), 'a', 1)
	typeAt(a, clk, at(2, 0, 0), 'a', 1)

	a.Close()
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after Close, want 0", clk.Pending())
	}
	if store.rec.RetainedClearAt.IsZero() {
		t.Error("pending clear not persisted on Close")
	}
}

func TestConcurrentIngest(t *testing.T) {
	a, clk, _ := newTestAggregator(t, at(1, 9, 0), DefaultOptions())
	now := clk.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				a.Ingest('e', now)
			}
		}()
	}
	wg.Wait()

	c := a.Snapshot().Counters
	if c.Total != 2000 || c.Keys['e'] != 2000 || c.Minutes[540] != 2000 {
		t.Errorf("total=%d e=%d minute=%d, want 2000 each", c.Total, c.Keys['e'], c.Minutes[540])
	}
}
