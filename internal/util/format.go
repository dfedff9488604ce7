package util

import "fmt"

// FormatMbps formats a rate given in Mbps with an appropriate unit.
func FormatMbps(mbps float64) string {
	return FormatBitsPerSecond(mbps * 1e6)
}

// FormatBitsPerSecond formats bits per second with appropriate units
func FormatBitsPerSecond(bps float64) string {
	return formatWithUnits(bps, []string{"bps", "Kbps", "Mbps", "Gbps", "Tbps"}, 1000)
}

// FormatRatio formats a ratio in [0,1] as a percentage.
func FormatRatio(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}

// formatWithUnits is a generic formatter for values with scaling units
func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
	if value >= 10 {
		return fmt.Sprintf("%.1f %s", value, units[idx])
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}
