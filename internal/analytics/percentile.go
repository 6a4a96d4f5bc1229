// Package analytics derives read-only insights from finished session
// snapshots: token distributions, activity timelines, usage smells and
// cross-session comparison. Nothing in this package mutates a session.
package analytics

import (
	"math"
	"sort"
)

// Distribution summarizes per-call token counts for one tool.
type Distribution struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Mean  float64 `json:"mean"`
	P50   int     `json:"p50"`
	P95   int     `json:"p95"`
}

// Percentile returns the nearest-rank percentile of values. The rank is
// ceil(p/100 * n); ties resolve to the lower index. Returns 0 for an empty
// slice.
func Percentile(values []int, p float64) int {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	rank := int(math.Ceil(p / 100.0 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Describe computes the distribution summary of per-call token counts.
func Describe(values []int) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	d := Distribution{
		Count: len(values),
		Min:   values[0],
		Max:   values[0],
		P50:   Percentile(values, 50),
		P95:   Percentile(values, 95),
	}
	sum := 0
	for _, v := range values {
		if v < d.Min {
			d.Min = v
		}
		if v > d.Max {
			d.Max = v
		}
		sum += v
	}
	d.Mean = float64(sum) / float64(len(values))
	return d
}

// HistogramBucket is one fixed-width bucket of a value histogram. High is
// exclusive except for the last bucket, which includes the maximum.
type HistogramBucket struct {
	Low   int `json:"low"`
	High  int `json:"high"`
	Count int `json:"count"`
}

// Histogram spreads values over n fixed-width buckets between min and max.
// When all values are equal, a single bucket holds everything.
func Histogram(values []int, n int) []HistogramBucket {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		return []HistogramBucket{{Low: min, High: max, Count: len(values)}}
	}

	width := float64(max-min) / float64(n)
	buckets := make([]HistogramBucket, n)
	for i := range buckets {
		buckets[i].Low = min + int(math.Round(float64(i)*width))
		buckets[i].High = min + int(math.Round(float64(i+1)*width))
	}
	buckets[n-1].High = max

	for _, v := range values {
		idx := int(float64(v-min) / width)
		if idx >= n {
			idx = n - 1
		}
		buckets[idx].Count++
	}
	return buckets
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)))
}
