package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

// TimelineBucket aggregates tool activity inside one time window. Tokens is
// the bucket total; MCP and Builtin split it by server kind.
type TimelineBucket struct {
	Start   time.Time `json:"start"`
	Calls   int       `json:"calls"`
	Tokens  int       `json:"tokens"`
	MCP     int       `json:"mcp_tokens"`
	Builtin int       `json:"builtin_tokens"`
}

// Timeline is the bucketed activity view of a single session.
type Timeline struct {
	Width   time.Duration    `json:"bucket_width"`
	Buckets []TimelineBucket `json:"buckets"`
	// Spikes holds indices of buckets whose token count is more than two
	// standard deviations above the mean of the non-empty buckets.
	Spikes []int `json:"spikes,omitempty"`
}

// BucketWidth picks a bucket size so a session renders at a useful
// resolution regardless of its length.
func BucketWidth(duration time.Duration) time.Duration {
	switch {
	case duration < 10*time.Minute:
		return 30 * time.Second
	case duration < time.Hour:
		return time.Minute
	case duration < 4*time.Hour:
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}

const spikeZScore = 2.0

// BuildTimeline buckets the snapshot's per-call history over the session
// window. Calls whose timestamps fall outside the window clamp to the first
// or last bucket. When no call carries a usable timestamp the session's
// total tokens are distributed evenly over all buckets instead (degraded
// mode, shown as builtin activity).
func BuildTimeline(snap *core.Snapshot) Timeline {
	duration := snap.Session.EndTime.Sub(snap.Session.StartTime)
	if duration < 0 {
		duration = 0
	}
	width := BucketWidth(duration)
	count := int(math.Ceil(float64(duration)/float64(width))) + 1

	tl := Timeline{
		Width:   width,
		Buckets: make([]TimelineBucket, count),
	}
	for i := range tl.Buckets {
		tl.Buckets[i].Start = snap.Session.StartTime.Add(time.Duration(i) * width)
	}

	for serverName, server := range snap.Servers {
		isBuiltin := serverName == "builtin"
		for _, tool := range server.Tools {
			for _, rec := range tool.CallHistory {
				if rec.Timestamp.IsZero() {
					continue
				}
				idx := bucketIndex(rec.Timestamp, snap.Session.StartTime, width, count)
				b := &tl.Buckets[idx]
				b.Calls++
				b.Tokens += rec.TotalTokens
				if isBuiltin {
					b.Builtin += rec.TotalTokens
				} else {
					b.MCP += rec.TotalTokens
				}
			}
		}
	}

	if allBucketsEmpty(tl.Buckets) && snap.Tokens.Total > 0 && count > 0 {
		per := snap.Tokens.Total / count
		for i := range tl.Buckets {
			tl.Buckets[i].Tokens = per
			tl.Buckets[i].Builtin = per
		}
	}

	tl.Spikes = detectSpikes(tl.Buckets)
	return tl
}

func allBucketsEmpty(buckets []TimelineBucket) bool {
	for _, b := range buckets {
		if b.Tokens > 0 {
			return false
		}
	}
	return true
}

func bucketIndex(ts, start time.Time, width time.Duration, count int) int {
	idx := int(ts.Sub(start) / width)
	if idx < 0 {
		return 0
	}
	if idx >= count {
		return count - 1
	}
	return idx
}

// detectSpikes flags buckets whose token count sits more than two standard
// deviations above the mean of the non-empty buckets. A flat distribution
// has no spikes.
func detectSpikes(buckets []TimelineBucket) []int {
	var nonZero []float64
	for _, b := range buckets {
		if b.Tokens > 0 {
			nonZero = append(nonZero, float64(b.Tokens))
		}
	}
	if len(nonZero) == 0 {
		return nil
	}
	m := mean(nonZero)
	sd := stddev(nonZero)
	if sd == 0 {
		return nil
	}

	var spikes []int
	for i, b := range buckets {
		if b.Tokens == 0 {
			continue
		}
		if (float64(b.Tokens)-m)/sd > spikeZScore {
			spikes = append(spikes, i)
		}
	}
	sort.Ints(spikes)
	return spikes
}
