// Package scenario assembles the core formulas into the per-scenario reports
// that the CLI, the control server and the renderers exchange.
package scenario

import (
	"fmt"
	"slices"

	"github.com/NodePath81/netcap/internal/config"
	"github.com/NodePath81/netcap/internal/model"
	"github.com/NodePath81/netcap/internal/risk"
)

const (
	NameSinglePath     = "single_path"
	NameFairShare      = "fair_share"
	NameEffectiveLinks = "effective_links"
)

type SinglePathReport struct {
	Scenario       string    `json:"scenario"`
	SenderMbps     float64   `json:"Rs_mbps"`
	LinksMbps      []float64 `json:"links_mbps"`
	ThroughputMbps float64   `json:"throughput_mbps"`
	Bottleneck     string    `json:"bottleneck"`
	BottleneckMbps float64   `json:"bottleneck_rate_mbps"`
}

type FairShareRow struct {
	FlowCount   int     `json:"N_flows"`
	PerFlowMbps float64 `json:"per_flow_throughput_mbps"`
}

type FairShareReport struct {
	Scenario     string         `json:"scenario"`
	SenderMbps   float64        `json:"Rs_mbps"`
	ReceiverMbps float64        `json:"Rc_mbps"`
	BackboneMbps float64        `json:"R_backbone_mbps"`
	Results      []FairShareRow `json:"results"`
}

type EffectiveLinksReport struct {
	Scenario       string    `json:"scenario"`
	BaseLinksMbps  []float64 `json:"base_links_mbps"`
	Efficiencies   []float64 `json:"efficiencies"`
	EffectiveMbps  []float64 `json:"effective_links_mbps"`
	ThroughputMbps float64   `json:"throughput_mbps"`
}

// Reports holds the outcome of every scenario present in a document. Absent
// scenarios are nil.
type Reports struct {
	SinglePath     *SinglePathReport     `json:"single_path,omitempty"`
	FairShare      *FairShareReport      `json:"fair_share,omitempty"`
	EffectiveLinks *EffectiveLinksReport `json:"effective_links,omitempty"`
	DoSSweep       *risk.Report          `json:"dos_sweep,omitempty"`
}

// SinglePath computes the throughput and bottleneck of one flow on one path.
// names may be nil.
func SinglePath(senderMbps float64, linkMbps []float64, names []string) (SinglePathReport, error) {
	throughput, err := model.EndToEndThroughput(senderMbps, linkMbps)
	if err != nil {
		return SinglePathReport{}, err
	}
	b, err := model.BottleneckInfo(senderMbps, linkMbps, names)
	if err != nil {
		return SinglePathReport{}, err
	}
	return SinglePathReport{
		Scenario:       NameSinglePath,
		SenderMbps:     senderMbps,
		LinksMbps:      nonNil(linkMbps),
		ThroughputMbps: throughput,
		Bottleneck:     b.Label,
		BottleneckMbps: b.RateMbps,
	}, nil
}

// FairShare evaluates the per-flow rate for each flow count in order.
func FairShare(senderMbps, receiverMbps, backboneMbps float64, flowCounts []int) (FairShareReport, error) {
	rows := make([]FairShareRow, 0, len(flowCounts))
	for _, n := range flowCounts {
		perFlow, err := model.PerFlowThroughputSharedBackbone(senderMbps, receiverMbps, backboneMbps, n)
		if err != nil {
			return FairShareReport{}, fmt.Errorf("flow count %d: %w", n, err)
		}
		rows = append(rows, FairShareRow{FlowCount: n, PerFlowMbps: perFlow})
	}
	return FairShareReport{
		Scenario:     NameFairShare,
		SenderMbps:   senderMbps,
		ReceiverMbps: receiverMbps,
		BackboneMbps: backboneMbps,
		Results:      rows,
	}, nil
}

// EffectiveLinks derates each link and reports the slowest derated link as
// the path throughput. No sender or receiver is involved, so an empty path
// has zero throughput.
func EffectiveLinks(linkMbps, efficiencies []float64) (EffectiveLinksReport, error) {
	eff, err := model.EffectiveLinkRates(linkMbps, efficiencies)
	if err != nil {
		return EffectiveLinksReport{}, err
	}
	throughput := 0.0
	if len(eff) > 0 {
		throughput = slices.Min(eff)
	}
	return EffectiveLinksReport{
		Scenario:       NameEffectiveLinks,
		BaseLinksMbps:  nonNil(linkMbps),
		Efficiencies:   nonNil(efficiencies),
		EffectiveMbps:  eff,
		ThroughputMbps: throughput,
	}, nil
}

// DoSSweep runs the risk sweep.
func DoSSweep(p risk.Params) (risk.Report, error) {
	return risk.Sweep(p)
}

// SweepParams converts a dos_sweep block into sweep parameters.
func SweepParams(c config.DoSSweepConfig) risk.Params {
	return risk.Params{
		SenderMbps:    c.Sender.Mbps(),
		ReceiverMbps:  c.Receiver.Mbps(),
		BackboneMbps:  c.Backbone.Mbps(),
		FlowCounts:    c.FlowCounts,
		WarnThreshold: c.Threshold(),
	}
}

// RunAll evaluates every scenario in doc, stopping at the first failure.
func RunAll(doc config.Document) (Reports, error) {
	var out Reports
	if c := doc.SinglePath; c != nil {
		rep, err := SinglePath(c.Sender.Mbps(), config.Rates(c.Links), c.LinkNames)
		if err != nil {
			return Reports{}, fmt.Errorf("%s: %w", NameSinglePath, err)
		}
		out.SinglePath = &rep
	}
	if c := doc.FairShare; c != nil {
		rep, err := FairShare(c.Sender.Mbps(), c.Receiver.Mbps(), c.Backbone.Mbps(), c.FlowCounts)
		if err != nil {
			return Reports{}, fmt.Errorf("%s: %w", NameFairShare, err)
		}
		out.FairShare = &rep
	}
	if c := doc.EffectiveLinks; c != nil {
		rep, err := EffectiveLinks(config.Rates(c.Links), c.Efficiencies)
		if err != nil {
			return Reports{}, fmt.Errorf("%s: %w", NameEffectiveLinks, err)
		}
		out.EffectiveLinks = &rep
	}
	if c := doc.DoSSweep; c != nil {
		rep, err := DoSSweep(SweepParams(*c))
		if err != nil {
			return Reports{}, fmt.Errorf("%s: %w", risk.ScenarioName, err)
		}
		out.DoSSweep = &rep
	}
	return out, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
