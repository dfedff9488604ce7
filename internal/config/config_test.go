package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
single_path:
  sender: 200
  links: [100, "50m", 0.3g]
  link_names: [wan, core, lan]
fair_share:
  sender: 200
  receiver: 200
  backbone: 100
  flow_counts: [1, 10, 50]
effective_links:
  links: [100, 100]
  efficiencies: [0.5, 0.9]
dos_sweep:
  sender: 200mbps
  receiver: 200
  backbone: 100
  flow_counts: [1, 50]
control:
  auth_token: secret
archive:
  path: " reports.db "
`

func TestParseYAML(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.NotNil(t, doc.SinglePath)
	if diff := cmp.Diff([]float64{100, 50, 300}, Rates(doc.SinglePath.Links)); diff != "" {
		t.Fatalf("single_path.links mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"wan", "core", "lan"}, doc.SinglePath.LinkNames)
	require.Equal(t, []int{1, 10, 50}, doc.FairShare.FlowCounts)
	require.Equal(t, []float64{0.5, 0.9}, doc.EffectiveLinks.Efficiencies)
	require.Equal(t, 200.0, doc.DoSSweep.Sender.Mbps())
	require.Equal(t, 0.10, doc.DoSSweep.Threshold())
	require.Equal(t, "reports.db", doc.Archive.Path)
	require.Equal(t, []string{"single_path", "fair_share", "effective_links", "dos_sweep"}, doc.Scenarios())
	require.NoError(t, doc.ValidateControl())
}

func TestParseJSON(t *testing.T) {
	raw := `{
  "dos_sweep": {"sender": 200, "receiver": 200, "backbone": 100, "flow_counts": [1, 50], "warn_threshold": 0.2},
  "single_path": {"sender": 200, "links": [100, 50, 300]}
}`
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, 0.2, doc.DoSSweep.Threshold())
	require.Nil(t, doc.SinglePath.LinkNames)
	require.Nil(t, doc.FairShare)
	require.Equal(t, []string{"single_path", "dos_sweep"}, doc.Scenarios())
}

func TestParseDefaults(t *testing.T) {
	doc, err := Parse([]byte("dos_sweep: {sender: 1, receiver: 1, backbone: 1, flow_counts: [1]}\n"))
	require.NoError(t, err)
	require.Equal(t, defaultControlAddr, doc.Control.BindAddr)
	require.Equal(t, defaultControlPort, doc.Control.BindPort)
	require.Equal(t, defaultControlMaxConnections, doc.Control.MaxConnections)
	require.True(t, doc.Control.Metrics.IsEnabled())
	require.Error(t, doc.ValidateControl())
}

func TestParseRejectsNonMappingRoot(t *testing.T) {
	for _, raw := range []string{"[1, 2, 3]\n", "\"just a string\"\n", "42\n"} {
		_, err := Parse([]byte(raw))
		require.ErrorIs(t, err, ErrRootNotMapping, "input %q", raw)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrEmptyDocument)
	_, err = Parse([]byte("   \n"))
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestParseRejectsNameMismatch(t *testing.T) {
	raw := "single_path: {sender: 200, links: [100, 50], link_names: [a]}\n"
	_, err := Parse([]byte(raw))
	require.ErrorContains(t, err, "single_path.link_names")
}

func TestParseRejectsEfficiencyMismatch(t *testing.T) {
	raw := "effective_links: {links: [100, 50], efficiencies: [1]}\n"
	_, err := Parse([]byte(raw))
	require.ErrorContains(t, err, "effective_links.efficiencies")
}

func TestParseRejectsEmptyFlowCounts(t *testing.T) {
	_, err := Parse([]byte("fair_share: {sender: 1, receiver: 1, backbone: 1}\n"))
	require.ErrorContains(t, err, "fair_share.flow_counts")
	_, err = Parse([]byte("dos_sweep: {sender: 1, receiver: 1, backbone: 1, flow_counts: []}\n"))
	require.ErrorContains(t, err, "dos_sweep.flow_counts")
}

func TestParseRejectsWarnThresholdRange(t *testing.T) {
	_, err := Parse([]byte("dos_sweep: {sender: 1, receiver: 1, backbone: 1, flow_counts: [1], warn_threshold: 1.5}\n"))
	require.ErrorContains(t, err, "warn_threshold")
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("dos_sweep: {sender: 1, receiver: 1, backbone: 1, flow_count: [1]}\n"))
	require.Error(t, err)
}

func TestParseRejectsBadRate(t *testing.T) {
	_, err := Parse([]byte("single_path: {sender: fast, links: [1]}\n"))
	require.Error(t, err)
}

func TestParseRejectsBadControlPort(t *testing.T) {
	_, err := Parse([]byte("control: {bind_port: 70000}\n"))
	require.ErrorContains(t, err, "control.bind_port")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"effective_links": {"links": [10], "efficiencies": [0.25]}}`), 0o600))
	doc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []float64{10}, Rates(doc.EffectiveLinks.Links))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
