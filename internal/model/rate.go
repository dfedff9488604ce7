package model

import (
	"math"
	"strconv"
)

// SenderLabel identifies the sender candidate in a Bottleneck.
const SenderLabel = "sender"

// Bottleneck is the element with the lowest rate along a path.
type Bottleneck struct {
	// RateMbps is the rate of the limiting element.
	RateMbps float64 `json:"rate_mbps"`
	// Label is "sender" or "link <name>", where name falls back to the
	// zero-based link index.
	Label string `json:"label"`
}

// EndToEndThroughput returns the rate a single flow achieves over a path: the
// minimum of the sender rate and every link rate. With no links the sender
// rate is returned unchanged.
func EndToEndThroughput(senderMbps float64, linkMbps []float64) (float64, error) {
	if err := checkRate("sender rate", senderMbps); err != nil {
		return 0, err
	}
	if err := checkLinks(linkMbps); err != nil {
		return 0, err
	}
	throughput := senderMbps
	for _, r := range linkMbps {
		if r < throughput {
			throughput = r
		}
	}
	return throughput, nil
}

// BottleneckInfo reports which element caps the path. Candidates are the
// sender followed by the links in order; on ties the earliest candidate wins.
// names may be nil; when present it must match linkMbps in length.
func BottleneckInfo(senderMbps float64, linkMbps []float64, names []string) (Bottleneck, error) {
	if names != nil && len(names) != len(linkMbps) {
		return Bottleneck{}, invalidf("link names (%d) must match link rates (%d)", len(names), len(linkMbps))
	}
	best := Bottleneck{RateMbps: senderMbps, Label: SenderLabel}
	for i, r := range linkMbps {
		if r < best.RateMbps {
			best = Bottleneck{RateMbps: r, Label: linkLabel(i, names)}
		}
	}
	return best, nil
}

func linkLabel(i int, names []string) string {
	if names != nil {
		return "link " + names[i]
	}
	return "link " + strconv.Itoa(i)
}

// PerFlowThroughputSharedBackbone returns the rate each of flows concurrent
// flows gets when they share a backbone fairly: the minimum of the sender
// rate, the receiver rate and backboneMbps/flows.
func PerFlowThroughputSharedBackbone(senderMbps, receiverMbps, backboneMbps float64, flows int) (float64, error) {
	if flows <= 0 {
		return 0, invalidf("flow count must be >= 1, got %d", flows)
	}
	if err := checkRate("sender rate", senderMbps); err != nil {
		return 0, err
	}
	if err := checkRate("receiver rate", receiverMbps); err != nil {
		return 0, err
	}
	if err := checkRate("backbone rate", backboneMbps); err != nil {
		return 0, err
	}
	fairShare := backboneMbps / float64(flows)
	return math.Min(senderMbps, math.Min(receiverMbps, fairShare)), nil
}

// EffectiveLinkRates scales each link rate by its efficiency. The result has
// the same order as the input.
func EffectiveLinkRates(linkMbps, efficiencies []float64) ([]float64, error) {
	if len(linkMbps) != len(efficiencies) {
		return nil, invalidf("link rates (%d) and efficiencies (%d) must have the same length", len(linkMbps), len(efficiencies))
	}
	if err := checkLinks(linkMbps); err != nil {
		return nil, err
	}
	for i, e := range efficiencies {
		if math.IsNaN(e) || e < 0 || e > 1 {
			return nil, invalidf("efficiency[%d] must be in [0,1], got %g", i, e)
		}
	}
	scaled := make([]float64, len(linkMbps))
	for i := range linkMbps {
		scaled[i] = linkMbps[i] * efficiencies[i]
	}
	return scaled, nil
}

func checkRate(name string, v float64) error {
	if !finite(v) || v < 0 {
		return invalidf("%s must be finite and non-negative, got %g", name, v)
	}
	return nil
}

func checkLinks(linkMbps []float64) error {
	for i, r := range linkMbps {
		if !finite(r) || r < 0 {
			return invalidf("link rate[%d] must be finite and non-negative, got %g", i, r)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
