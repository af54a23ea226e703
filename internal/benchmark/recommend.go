// Package benchmark ranks models from benchmark passes and recommends
// the best fit for this machine.
package benchmark

import (
	"sort"
	"time"
)

// Row is one benchmarked model: synthetic benchmark numbers plus
// reliability observed from live dictation sessions, when available.
type Row struct {
	ModelID                 string  `json:"model_id"`
	Runs                    int     `json:"runs"`
	P50LatencyMS            int64   `json:"p50_latency_ms"`
	P95LatencyMS            int64   `json:"p95_latency_ms"`
	AverageRTF              float64 `json:"average_rtf"`
	ObservedSampleCount     int     `json:"observed_sample_count,omitempty"`
	ObservedSuccessRate     float64 `json:"observed_success_rate_percent,omitempty"`
	ObservedP95ReleaseMS    int64   `json:"observed_p95_release_to_final_ms,omitempty"`
	ObservedWatchdogPercent float64 `json:"observed_watchdog_recovery_rate_percent,omitempty"`
}

// Run is a completed benchmark pass.
type Run struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Rows        []Row     `json:"rows"`
}

// Constraints are the acceptance gates. Zero values fall back to the
// defaults below.
type Constraints struct {
	MaxP95LatencyMS int64   `json:"max_p95_latency_ms"`
	MaxRTF          float64 `json:"max_rtf"`
}

const (
	DefaultMaxP95LatencyMS = 5_000
	DefaultMaxRTF          = 1.2

	// Live reliability only influences ranking once a model has this
	// many observed sessions.
	minObservedSamples = 3
)

// Recommendation names the model the app should switch to and why.
type Recommendation struct {
	ModelID             string  `json:"model_id"`
	Reason              string  `json:"reason"`
	P95LatencyMS        int64   `json:"p95_latency_ms"`
	AverageRTF          float64 `json:"average_rtf"`
	MeetsLatencyGate    bool    `json:"meets_latency_gate"`
	MeetsRTFGate        bool    `json:"meets_rtf_gate"`
	ObservedSampleCount int     `json:"observed_sample_count"`
	ObservedSuccessRate float64 `json:"observed_success_rate_percent"`
}

// Recommend ranks rows by gate compliance, then observed reliability,
// then raw speed. It returns false when there is nothing to rank.
func Recommend(rows []Row, constraints Constraints) (Recommendation, bool) {
	if len(rows) == 0 {
		return Recommendation{}, false
	}

	latencyGate := constraints.MaxP95LatencyMS
	if latencyGate <= 0 {
		latencyGate = DefaultMaxP95LatencyMS
	}
	rtfGate := constraints.MaxRTF
	if rtfGate <= 0 {
		rtfGate = DefaultMaxRTF
	}

	ranked := make([]Row, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j], latencyGate, rtfGate)
	})

	best := ranked[0]
	meetsLatency := best.P95LatencyMS <= latencyGate
	meetsRTF := best.AverageRTF <= rtfGate
	observed := best.ObservedSampleCount >= minObservedSamples

	reason := "No model satisfied all gates; selected fastest available fallback."
	if meetsLatency && meetsRTF {
		reason = "Best model under configured latency and RTF gates."
		if observed {
			reason = "Best reliability/speed fit on this machine from benchmark plus observed runtime sessions."
		}
	}

	return Recommendation{
		ModelID:             best.ModelID,
		Reason:              reason,
		P95LatencyMS:        best.P95LatencyMS,
		AverageRTF:          best.AverageRTF,
		MeetsLatencyGate:    meetsLatency,
		MeetsRTFGate:        meetsRTF,
		ObservedSampleCount: best.ObservedSampleCount,
		ObservedSuccessRate: best.ObservedSuccessRate,
	}, true
}

func rankLess(a, b Row, latencyGate int64, rtfGate float64) bool {
	aPass := a.P95LatencyMS <= latencyGate && a.AverageRTF <= rtfGate
	bPass := b.P95LatencyMS <= latencyGate && b.AverageRTF <= rtfGate
	if aPass != bPass {
		return aPass
	}

	aBand := reliabilityBand(a)
	bBand := reliabilityBand(b)
	if aBand != bBand {
		return aBand > bBand
	}

	if a.ObservedSampleCount >= minObservedSamples && b.ObservedSampleCount >= minObservedSamples {
		if a.ObservedSuccessRate != b.ObservedSuccessRate {
			return a.ObservedSuccessRate > b.ObservedSuccessRate
		}
		if a.ObservedWatchdogPercent != b.ObservedWatchdogPercent {
			return a.ObservedWatchdogPercent < b.ObservedWatchdogPercent
		}
		if a.ObservedP95ReleaseMS != b.ObservedP95ReleaseMS {
			return a.ObservedP95ReleaseMS < b.ObservedP95ReleaseMS
		}
	}

	if a.P95LatencyMS != b.P95LatencyMS {
		return a.P95LatencyMS < b.P95LatencyMS
	}
	return a.AverageRTF < b.AverageRTF
}

// reliabilityBand buckets live reliability so small success-rate noise
// does not flip the ranking. Band 2 is neutral: not enough observations.
func reliabilityBand(row Row) int {
	if row.ObservedSampleCount < minObservedSamples {
		return 2
	}
	if row.ObservedSuccessRate >= 97.0 && row.ObservedWatchdogPercent <= 5.0 {
		return 4
	}
	if row.ObservedSuccessRate >= 94.0 && row.ObservedWatchdogPercent <= 10.0 {
		return 3
	}
	if row.ObservedSuccessRate >= 90.0 {
		return 2
	}
	return 1
}
