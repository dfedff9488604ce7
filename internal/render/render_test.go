package render

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func sweepReport(t *testing.T) risk.Report {
	t.Helper()
	p := risk.DefaultParams()
	p.SenderMbps, p.ReceiverMbps, p.BackboneMbps = 200, 200, 100
	p.FlowCounts = []int{1, 50}
	rep, err := risk.Sweep(p)
	require.NoError(t, err)
	return rep
}

func TestNew(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)
	require.IsType(t, &Text{}, r)

	r, err = New("JSON")
	require.NoError(t, err)
	require.IsType(t, JSON{}, r)

	_, err = New("xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestTextSinglePath(t *testing.T) {
	rep, err := scenario.SinglePath(200, []float64{100, 50, 300}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewText().SinglePath(&buf, rep))
	want := strings.Join([]string{
		"scenario: single_path",
		"Rs_mbps: 200",
		"links_mbps: [100, 50, 300]",
		"throughput_mbps: 50",
		"bottleneck: link 1",
		"bottleneck_rate_mbps: 50",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("text output mismatch (-want +got):\n%s", diff)
	}
}

func TestTextFairShare(t *testing.T) {
	rep, err := scenario.FairShare(200, 200, 100, []int{1, 50})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewText().FairShare(&buf, rep))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "      1 |                 100.0000", lines[2])
	require.Equal(t, "     50 |                   2.0000", lines[3])
}

func TestTextSweep(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewText().Sweep(&buf, sweepReport(t)))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "severity")
	require.Contains(t, lines[2], "CRITICAL")
	require.True(t, strings.HasSuffix(lines[2], "| low_headroom"), lines[2])
	require.True(t, strings.HasSuffix(lines[3], "| low_headroom,dos_prone"), lines[3])
}

func TestTextSweepEmptyRisk(t *testing.T) {
	rep := risk.Report{Results: []risk.Result{{FlowCount: 1, Severity: risk.SeverityOK, Risk: []string{}}}}
	var buf bytes.Buffer
	require.NoError(t, NewText().Sweep(&buf, rep))
	require.True(t, strings.HasSuffix(strings.TrimRight(buf.String(), "\n"), "| OK       | -"), buf.String())
}

func TestJSONSweep(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Sweep(&buf, sweepReport(t)))
	require.Contains(t, buf.String(), "\n  \"scenario\": \"dos_sweep\"")

	var decoded risk.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, sweepReport(t), decoded)
}

func TestAllText(t *testing.T) {
	single, err := scenario.SinglePath(10, nil, nil)
	require.NoError(t, err)
	sweep := sweepReport(t)

	var buf bytes.Buffer
	require.NoError(t, All(&buf, NewText(), scenario.Reports{SinglePath: &single, DoSSweep: &sweep}))
	out := buf.String()
	require.Contains(t, out, "bottleneck: sender\nbottleneck_rate_mbps: 10\n\nN_flows")
}

func TestAllJSON(t *testing.T) {
	eff, err := scenario.EffectiveLinks([]float64{100, 100}, []float64{0.5, 0.9})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, All(&buf, JSON{}, scenario.Reports{EffectiveLinks: &eff}))

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	require.Contains(t, decoded, "effective_links")
}

func historyEntries() []archive.Entry {
	return []archive.Entry{{
		ID:            "6f1c2b9e-4d1a-4c4b-9a55-0b7e2d3c1a10",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
		SenderMbps:    100,
		ReceiverMbps:  100,
		BackboneMbps:  2500,
		WarnThreshold: 0.1,
		FlowCounts:    3,
		Worst:         risk.SeverityWarn,
	}}
}

func TestTextHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewText().History(&buf, historyEntries()))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "id "))
	require.Equal(t,
		"6f1c2b9e-4d1a-4c4b-9a55-0b7e2d3c1a10 | 2026-03-01 12:00:00 | 100 Mbps   | 100 Mbps   | 2.50 Gbps  | 10.0%  |     3 | WARN",
		lines[1])
}

func TestJSONHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.History(&buf, historyEntries()))
	var got []archive.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, risk.SeverityWarn, got[0].Worst)

	buf.Reset()
	require.NoError(t, JSON{}.History(&buf, nil))
	require.Equal(t, "[]\n", buf.String())
}
