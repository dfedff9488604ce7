package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate is a rate in Mbps. In a document it may be a plain number (Mbps) or a
// string with a unit suffix such as "100m", "1.5gbps" or "800kbps".
type Rate float64

func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: rate must be a scalar", value.Line)
	}
	switch value.Tag {
	case "!!int", "!!float":
		var mbps float64
		if err := value.Decode(&mbps); err != nil {
			return err
		}
		if math.IsNaN(mbps) || math.IsInf(mbps, 0) {
			return fmt.Errorf("line %d: rate must be finite", value.Line)
		}
		*r = Rate(mbps)
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		mbps, err := ParseRate(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*r = Rate(mbps)
		return nil
	}
}

func (r Rate) Mbps() float64 {
	return float64(r)
}

// Rates converts a slice of Rate to plain Mbps values.
func Rates(rs []Rate) []float64 {
	if rs == nil {
		return nil
	}
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Mbps()
	}
	return out
}

// ParseRate parses a human-readable rate and returns Mbps.
// A bare number is taken as Mbps. Suffixes k/m/g/t and kbps/mbps/gbps/tbps
// are decimal (SI); "bps" is bits per second.
func ParseRate(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("rate is empty")
	}

	numStr := strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyz/")
	unit := s[len(numStr):]
	if numStr == "" {
		return 0, fmt.Errorf("invalid rate value: %q", s)
	}
	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid rate value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %q", s)
	}

	switch unit {
	case "", "m", "mbps", "mbit/s":
		return value, nil
	case "bps", "b/s":
		return value / 1e6, nil
	case "k", "kbps", "kbit/s":
		return value / 1e3, nil
	case "g", "gbps", "gbit/s":
		return value * 1e3, nil
	case "t", "tbps", "tbit/s":
		return value * 1e6, nil
	default:
		return 0, fmt.Errorf("unknown rate unit %q", unit)
	}
}
