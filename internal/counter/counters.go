// Package counter turns a stream of key events into calendar-bucketed keystroke counters.
package counter

import (
	"time"

	"github.com/aayushbajaj/keyrace/internal/clock"
)

const (
	// MinutesPerDay is the number of minute buckets in a day.
	MinutesPerDay = 1440
	// HistogramSize is the number of key codes tracked by the histogram.
	HistogramSize = 256

	// DefaultRetainMinutes is how many trailing minute buckets survive a day rollover.
	DefaultRetainMinutes = 20
	// DefaultRetainGrace is how long the retained buckets stay visible after a rollover.
	DefaultRetainGrace = 20 * time.Minute
)

// DailyCounters is the state for one calendar day.
type DailyCounters struct {
	Total   int64
	Minutes [MinutesPerDay]int64
	Keys    [HistogramSize]int64
	Date    clock.Date

	// Retained holds the values carried into Minutes[MinutesPerDay-len(Retained):] from the
	// previous day. They are subtracted again at RetainedClearAt.
	Retained        []int64
	RetainedClearAt time.Time
}

// RetainedSum returns the number of keystrokes in Minutes that belong to the previous day.
func (d *DailyCounters) RetainedSum() int64 {
	var sum int64
	for _, v := range d.Retained {
		sum += v
	}
	return sum
}

// MinutesSum returns the sum over every minute bucket.
func (d *DailyCounters) MinutesSum() int64 {
	var sum int64
	for _, v := range d.Minutes {
		sum += v
	}
	return sum
}

// clone returns a deep copy safe to hand to other goroutines.
func (d *DailyCounters) clone() DailyCounters {
	c := *d
	if d.Retained != nil {
		c.Retained = append([]int64(nil), d.Retained...)
	}
	return c
}
