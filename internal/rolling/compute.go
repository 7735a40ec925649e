// Package rolling derives 30/60/90-day demand statistics from daily totals.
//
// Statistics are recomputed from scratch and replace the stored row each time
// a key is touched. Days without activity count as zero observations, and the
// standard deviation is floored at sqrt(mean) for positive means.
package rolling

import (
	"math"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
)

// Series maps a day (midnight UTC) to its total quantity.
type Series map[time.Time]float64

// ComputeWindow returns the statistics of the days-long window ending at asOf
// inclusive. Values are summed oldest day first so equal input always gives
// bit-identical output.
func ComputeWindow(s Series, asOf time.Time, days int) domain.WindowStats {
	ws := domain.WindowStats{Days: days}
	if days <= 0 {
		return ws
	}
	end := domain.Day(asOf)
	start := end.AddDate(0, 0, -(days - 1))

	values := make([]float64, days)
	for i := range values {
		q := s[start.AddDate(0, 0, i)]
		values[i] = q
		ws.TotalQty += q
		if q != 0 {
			ws.DaysWithActivity++
		}
	}

	n := float64(days)
	ws.Mean = ws.TotalQty / n
	var sq float64
	for _, v := range values {
		d := v - ws.Mean
		sq += d * d
	}
	ws.StdDev = math.Sqrt(sq / n)
	if ws.Mean > 0 {
		ws.StdDev = math.Max(ws.StdDev, math.Sqrt(ws.Mean))
	}
	if ws.Mean != 0 {
		ws.CV = ws.StdDev / ws.Mean
	}
	return ws
}

// Compute returns every window of domain.Windows.
func Compute(s Series, asOf time.Time) map[int]domain.WindowStats {
	out := make(map[int]domain.WindowStats, len(domain.Windows))
	for _, w := range domain.Windows {
		out[w] = ComputeWindow(s, asOf, w)
	}
	return out
}

// Merge returns the day-by-day sum of a and b.
func Merge(a, b Series) Series {
	out := make(Series, len(a)+len(b))
	for d, q := range a {
		out[d] = q
	}
	for d, q := range b {
		out[d] += q
	}
	return out
}
