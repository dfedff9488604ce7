// Package risk sweeps a shared backbone across flow counts and grades how
// close each load level brings it to exhaustion.
package risk

import (
	"fmt"
	"math"

	"github.com/NodePath81/netcap/internal/model"
)

const (
	// DefaultWarnThreshold is the headroom ratio at or below which a result
	// is tagged low_headroom.
	DefaultWarnThreshold = 0.10
	// CriticalHeadroom is the fixed headroom ratio at or below which a result
	// is CRITICAL regardless of the warn threshold.
	CriticalHeadroom = 0.05
	// DoSProneShare is the fraction of the backbone at or below which the
	// per-flow rate marks the regime as dos_prone.
	DoSProneShare = 0.05

	// ScenarioName is the scenario tag carried by every Report.
	ScenarioName = "dos_sweep"
)

// Severity grades a single sweep row.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Worse reports whether s is strictly more severe than other.
func (s Severity) Worse(other Severity) bool {
	return s.rank() > other.rank()
}

// Risk tags attached to a Result.
const (
	TagLowHeadroom = "low_headroom"
	TagDoSProne    = "dos_prone"
)

// Params are the inputs of a sweep.
type Params struct {
	SenderMbps    float64
	ReceiverMbps  float64
	BackboneMbps  float64
	FlowCounts    []int
	WarnThreshold float64
}

// DefaultParams returns Params with the default warn threshold set.
func DefaultParams() Params {
	return Params{WarnThreshold: DefaultWarnThreshold}
}

// Result is the outcome for one flow count.
type Result struct {
	FlowCount   int      `json:"N_flows"`
	PerFlowMbps float64  `json:"per_flow_throughput_mbps"`
	TotalMbps   float64  `json:"total_throughput_mbps"`
	Headroom    float64  `json:"backbone_headroom_ratio"`
	Severity    Severity `json:"severity"`
	Risk        []string `json:"risk"`
}

// HasRisk reports whether tag is present on the result.
func (r Result) HasRisk(tag string) bool {
	for _, t := range r.Risk {
		if t == tag {
			return true
		}
	}
	return false
}

// Report echoes the sweep inputs together with one Result per flow count, in
// the order the flow counts were given.
type Report struct {
	Scenario      string   `json:"scenario"`
	SenderMbps    float64  `json:"Rs_mbps"`
	ReceiverMbps  float64  `json:"Rc_mbps"`
	BackboneMbps  float64  `json:"R_backbone_mbps"`
	WarnThreshold float64  `json:"warn_threshold"`
	Results       []Result `json:"results"`
}

// Worst returns the most severe severity across all results, or OK for an
// empty report.
func (r Report) Worst() Severity {
	worst := SeverityOK
	for _, res := range r.Results {
		if res.Severity.Worse(worst) {
			worst = res.Severity
		}
	}
	return worst
}

// HeadroomRatio is the fraction of capacity left after used is consumed,
// clamped at zero. A non-positive capacity has no headroom.
func HeadroomRatio(capacityMbps, usedMbps float64) float64 {
	if capacityMbps <= 0 {
		return 0
	}
	return max(0, (capacityMbps-usedMbps)/capacityMbps)
}

// Classify derives the severity and risk tags for a row.
func Classify(perFlowMbps, backboneMbps, headroom, warnThreshold float64) (Severity, []string) {
	severity := SeverityOK
	switch {
	case headroom <= CriticalHeadroom:
		severity = SeverityCritical
	case headroom <= warnThreshold:
		severity = SeverityWarn
	}
	tags := make([]string, 0, 2)
	if headroom <= warnThreshold {
		tags = append(tags, TagLowHeadroom)
	}
	if perFlowMbps <= DoSProneShare*backboneMbps {
		tags = append(tags, TagDoSProne)
	}
	return severity, tags
}

// Evaluate computes the Result for a single flow count.
func Evaluate(p Params, flows int) (Result, error) {
	perFlow, err := model.PerFlowThroughputSharedBackbone(p.SenderMbps, p.ReceiverMbps, p.BackboneMbps, flows)
	if err != nil {
		return Result{}, fmt.Errorf("flow count %d: %w", flows, err)
	}
	total := perFlow * float64(flows)
	headroom := HeadroomRatio(p.BackboneMbps, total)
	severity, tags := Classify(perFlow, p.BackboneMbps, headroom, p.WarnThreshold)
	return Result{
		FlowCount:   flows,
		PerFlowMbps: perFlow,
		TotalMbps:   total,
		Headroom:    headroom,
		Severity:    severity,
		Risk:        tags,
	}, nil
}

// Sweep evaluates every flow count in order. Duplicates are kept. The first
// invalid entry aborts the sweep and no partial report is returned.
func Sweep(p Params) (Report, error) {
	if err := checkThreshold(p.WarnThreshold); err != nil {
		return Report{}, err
	}
	results := make([]Result, 0, len(p.FlowCounts))
	for _, n := range p.FlowCounts {
		res, err := Evaluate(p, n)
		if err != nil {
			return Report{}, err
		}
		results = append(results, res)
	}
	return Report{
		Scenario:      ScenarioName,
		SenderMbps:    p.SenderMbps,
		ReceiverMbps:  p.ReceiverMbps,
		BackboneMbps:  p.BackboneMbps,
		WarnThreshold: p.WarnThreshold,
		Results:       results,
	}, nil
}

// Validate checks every flow count and rate without producing results.
func Validate(p Params) error {
	if err := checkThreshold(p.WarnThreshold); err != nil {
		return err
	}
	for _, n := range p.FlowCounts {
		if _, err := model.PerFlowThroughputSharedBackbone(p.SenderMbps, p.ReceiverMbps, p.BackboneMbps, n); err != nil {
			return fmt.Errorf("flow count %d: %w", n, err)
		}
	}
	return nil
}

func checkThreshold(th float64) error {
	if math.IsNaN(th) || math.IsInf(th, 0) {
		return fmt.Errorf("%w: warn threshold must be finite, got %g", model.ErrInvalidInput, th)
	}
	return nil
}

// Each validates p and then calls fn with each Result in order. Because the
// whole input is validated first, fn is never called for an invalid sweep.
// An error returned by fn stops the iteration and is returned as is.
func Each(p Params, fn func(Result) error) error {
	if err := Validate(p); err != nil {
		return err
	}
	for _, n := range p.FlowCounts {
		res, err := Evaluate(p, n)
		if err != nil {
			return err
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}
