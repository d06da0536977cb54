package clock

import (
	"sync"
	"testing"
	"time"
)

func TestMinuteOfDay(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		expected int
	}{
		{"midnight", time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local), 0},
		{"one past", time.Date(2026, 3, 1, 0, 1, 59, 0, time.Local), 1},
		{"noon", time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local), 750},
		{"last minute", time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local), 1439},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinuteOfDay(tt.at); got != tt.expected {
				t.Errorf("MinuteOfDay() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestDateOf(t *testing.T) {
	d := DateOf(time.Date(2026, 12, 31, 23, 59, 0, 0, time.Local))
	if d.Year != 2026 || d.Month != 12 || d.Day != 31 {
		t.Errorf("unexpected date %+v", d)
	}
	if d.String() != "2026-12-31" {
		t.Errorf("String() = %q, want 2026-12-31", d.String())
	}
	if d.IsZero() {
		t.Error("expected non-zero date")
	}
	if !(Date{}).IsZero() {
		t.Error("expected zero date")
	}
}

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	m := NewManual(start)

	var order []string
	m.AfterFunc(10*time.Minute, func() { order = append(order, "late") })
	m.AfterFunc(5*time.Minute, func() { order = append(order, "early") })
	stopped := m.AfterFunc(5*time.Minute, func() { order = append(order, "stopped") })
	if !stopped.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}

	m.Advance(4 * time.Minute)
	if len(order) != 0 {
		t.Fatalf("expected no timers yet, got %v", order)
	}
	if m.Pending() != 2 {
		t.Errorf("expected 2 pending timers, got %d", m.Pending())
	}

	m.Advance(10 * time.Minute)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("unexpected firing order %v", order)
	}
	if m.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", m.Pending())
	}
	if !m.Now().Equal(start.Add(14 * time.Minute)) {
		t.Errorf("unexpected now %v", m.Now())
	}
}

func TestManualStopConcurrentWithAdvance(t *testing.T) {
	m := NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local))
	timers := make([]Timer, 100)
	for i := range timers {
		timers[i] = m.AfterFunc(time.Duration(i)*time.Second, func() {})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, tm := range timers {
			tm.Stop()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			m.Advance(time.Second)
		}
	}()
	wg.Wait()

	if m.Pending() != 0 {
		t.Errorf("expected every timer stopped or fired, got %d pending", m.Pending())
	}
	if timers[0].Stop() {
		t.Error("Stop after fire or stop should report false")
	}
}
