package monitor

import (
	"fmt"
	"math"
)

// notAvailable stands in for NaN, which Prometheus returns for ratios and
// quantiles over an empty window.
const notAvailable = "n/a"

// FormatRequestRate formats HTTP throughput as "X.X req/min".
func FormatRequestRate(perMinute float64) string {
	if math.IsNaN(perMinute) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f req/min", perMinute)
}

// FormatPerMinute formats an event rate as "X.X/min".
func FormatPerMinute(perMinute float64) string {
	if math.IsNaN(perMinute) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f/min", perMinute)
}

// FormatLatency shows sub-second values in milliseconds.
func FormatLatency(seconds float64) string {
	switch {
	case math.IsNaN(seconds):
		return notAvailable
	case seconds < 1:
		return fmt.Sprintf("%.1fms", seconds*1000)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatPercentage formats a 0..1 ratio.
func FormatPercentage(ratio float64) string {
	if math.IsNaN(ratio) {
		return notAvailable
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats whole seconds as "Xh Ym", or "Ym" under an hour.
func FormatDuration(seconds int64) string {
	h, m := seconds/3600, seconds%3600/60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
