package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
	"github.com/NodePath81/netcap/internal/util"
)

// Text writes key/value blocks and aligned tables for a terminal.
type Text struct {
	severity map[risk.Severity]*color.Color
}

func NewText() *Text {
	return &Text{
		severity: map[risk.Severity]*color.Color{
			risk.SeverityCritical: color.New(color.FgRed, color.Bold),
			risk.SeverityWarn:     color.New(color.FgYellow),
			risk.SeverityOK:       color.New(color.FgGreen),
		},
	}
}

func (t *Text) SinglePath(w io.Writer, r scenario.SinglePathReport) error {
	return writeFields(w, [][2]string{
		{"scenario", r.Scenario},
		{"Rs_mbps", formatNumber(r.SenderMbps)},
		{"links_mbps", formatList(r.LinksMbps)},
		{"throughput_mbps", formatNumber(r.ThroughputMbps)},
		{"bottleneck", r.Bottleneck},
		{"bottleneck_rate_mbps", formatNumber(r.BottleneckMbps)},
	})
}

func (t *Text) EffectiveLinks(w io.Writer, r scenario.EffectiveLinksReport) error {
	return writeFields(w, [][2]string{
		{"scenario", r.Scenario},
		{"base_links_mbps", formatList(r.BaseLinksMbps)},
		{"efficiencies", formatList(r.Efficiencies)},
		{"effective_links_mbps", formatList(r.EffectiveMbps)},
		{"throughput_mbps", formatNumber(r.ThroughputMbps)},
	})
}

func (t *Text) FairShare(w io.Writer, r scenario.FairShareReport) error {
	var b strings.Builder
	b.WriteString("N_flows | per-flow throughput (Mbps)\n")
	b.WriteString("-----------------------------------\n")
	for _, row := range r.Results {
		fmt.Fprintf(&b, "%7d | %24.4f\n", row.FlowCount, row.PerFlowMbps)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Text) Sweep(w io.Writer, r risk.Report) error {
	var b strings.Builder
	b.WriteString("N_flows | per-flow (Mbps) | total (Mbps) | headroom | severity | risk\n")
	b.WriteString("-----------------------------------------------------------------------\n")
	for _, row := range r.Results {
		tags := "-"
		if len(row.Risk) > 0 {
			tags = strings.Join(row.Risk, ",")
		}
		fmt.Fprintf(&b, "%7d | %15.4f | %12.4f | %8.3f | %s | %s\n",
			row.FlowCount,
			row.PerFlowMbps,
			row.TotalMbps,
			row.Headroom,
			t.paint(row.Severity, fmt.Sprintf("%-8s", row.Severity)),
			tags,
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Text) History(w io.Writer, entries []archive.Entry) error {
	var b strings.Builder
	b.WriteString("id                                   | created             | Rs         | Rc         | backbone   | warn   | flows | worst\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s | %s | %-10s | %-10s | %-10s | %-6s | %5d | %s\n",
			e.ID,
			e.CreatedAt.Local().Format(time.DateTime),
			util.FormatMbps(e.SenderMbps),
			util.FormatMbps(e.ReceiverMbps),
			util.FormatMbps(e.BackboneMbps),
			util.FormatRatio(e.WarnThreshold),
			e.FlowCounts,
			t.paint(e.Worst, string(e.Worst)),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Text) paint(s risk.Severity, text string) string {
	c, ok := t.severity[s]
	if !ok {
		return text
	}
	return c.Sprint(text)
}

func writeFields(w io.Writer, fields [][2]string) error {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteString(": ")
		b.WriteString(f[1])
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatList(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatNumber(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
