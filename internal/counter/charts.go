package counter

import (
	"time"

	"github.com/aayushbajaj/keyrace/internal/clock"
)

// Chart shapes.
const (
	MinutesChartPoints = 21
	HoursChartPoints   = 24

	keysChartFirst    = 'a'
	keysChartLast     = 'z'
	symbolsChartFirst = '!'
	symbolsChartLast  = '9'
)

// Charts are the projections the UI draws. They are derived from DailyCounters and never persisted.
type Charts struct {
	Minutes  []int64
	Hours    []int64
	Keys     []int64
	Symbols  []int64
	Keyboard KeyboardData
}

// ComputeCharts derives every projection from d at time now.
func ComputeCharts(d *DailyCounters, now time.Time) Charts {
	return Charts{
		Minutes:  ComputeMinutesChart(d, now),
		Hours:    ComputeHoursChart(d),
		Keys:     ComputeKeysChart(d),
		Symbols:  ComputeSymbolsChart(d),
		Keyboard: ComputeKeyboardData(d),
	}
}

// ComputeMinutesChart returns the buckets for the last 20 minutes and the current one,
// oldest first. The bucket array is read as a ring so the window wraps past midnight.
func ComputeMinutesChart(d *DailyCounters, now time.Time) []int64 {
	current := clock.MinuteOfDay(now)
	out := make([]int64, MinutesChartPoints)
	for i := 0; i < MinutesChartPoints; i++ {
		back := MinutesChartPoints - 1 - i
		out[i] = d.Minutes[(current-back+MinutesPerDay)%MinutesPerDay]
	}
	return out
}

// ComputeHoursChart sums the sixty minute buckets of each hour.
func ComputeHoursChart(d *DailyCounters) []int64 {
	out := make([]int64, HoursChartPoints)
	for i, v := range d.Minutes {
		out[i/60] += v
	}
	return out
}

// ComputeKeysChart returns the histogram slice for lowercase a through z.
func ComputeKeysChart(d *DailyCounters) []int64 {
	return histogramSlice(d, keysChartFirst, keysChartLast)
}

// ComputeSymbolsChart returns the histogram slice for '!' through '9'.
func ComputeSymbolsChart(d *DailyCounters) []int64 {
	return histogramSlice(d, symbolsChartFirst, symbolsChartLast)
}

func histogramSlice(d *DailyCounters, first, last int) []int64 {
	out := make([]int64, last-first+1)
	copy(out, d.Keys[first:last+1])
	return out
}
