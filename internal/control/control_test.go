package control

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/config"
	"github.com/NodePath81/netcap/internal/metrics"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/util"
)

const testToken = "secret"

type rpcEnvelope struct {
	Ok     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

func newTestServer(t *testing.T, withArchive bool) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	doc, err := config.Parse([]byte(`
fair_share:
  sender: 100
  receiver: 100
  backbone: 1000
  flow_counts: [1, 10]
control:
  auth_token: secret
`))
	require.NoError(t, err)
	m := metrics.NewMetrics()
	var store Archive
	if withArchive {
		s, err := archive.Open(filepath.Join(t.TempDir(), "reports.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		store = s
	}
	logger := util.NewLogger(io.Discard, slog.LevelError)
	srv := httptest.NewServer(NewControlServer(doc, store, m, nil, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func callRPC(t *testing.T, srv *httptest.Server, token, method string, params interface{}) (int, rpcEnvelope) {
	t.Helper()
	body := map[string]interface{}{"method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rpc", bytes.NewReader(raw))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRPCRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, false)
	status, env := callRPC(t, srv, "", "EndToEndThroughput", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, env.Ok)

	status, _ = callRPC(t, srv, "wrong!", "EndToEndThroughput", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestRPCEndToEndAndBottleneck(t *testing.T) {
	srv, m := newTestServer(t, false)
	status, env := callRPC(t, srv, testToken, "EndToEndThroughput", pathParams{Sender: 100, Links: []float64{50, 30, 80}})
	require.Equal(t, http.StatusOK, status)
	var tp throughputResponse
	require.NoError(t, json.Unmarshal(env.Result, &tp))
	require.Equal(t, 30.0, tp.ThroughputMbps)

	status, env = callRPC(t, srv, testToken, "BottleneckInfo", pathParams{Sender: 100, Links: []float64{50, 30, 80}, LinkNames: []string{"a", "b", "c"}})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"rate_mbps":30,"label":"link b"}`, string(env.Result))
	require.EqualValues(t, 1, m.Evaluations(metrics.OpEndToEnd))
}

func TestRPCInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t, false)
	status, env := callRPC(t, srv, testToken, "PerFlowThroughput", perFlowParams{Sender: 100, Receiver: 100, Backbone: 1000, Flows: 0})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, env.Error, "invalid input")

	status, _ = callRPC(t, srv, testToken, "EffectiveLinkRates", effectiveParams{Links: []float64{100}, Efficiencies: []float64{0.5, 0.5}})
	require.Equal(t, http.StatusBadRequest, status)

	status, env = callRPC(t, srv, testToken, "NoSuchMethod", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "unknown method", env.Error)
}

func TestRPCDoSSweepArchive(t *testing.T) {
	srv, _ := newTestServer(t, true)
	params := sweepParams{Sender: 100, Receiver: 100, Backbone: 1000, FlowCounts: []int{1, 10, 100}, Archive: true}
	status, env := callRPC(t, srv, testToken, "DoSSweep", params)
	require.Equal(t, http.StatusOK, status, env.Error)
	var resp sweepResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.NotEmpty(t, resp.ID)
	require.Len(t, resp.Report.Results, 3)
	require.Equal(t, risk.SeverityCritical, resp.Report.Results[1].Severity)

	status, env = callRPC(t, srv, testToken, "GetReport", getReportParams{ID: resp.ID})
	require.Equal(t, http.StatusOK, status)
	var got risk.Report
	require.NoError(t, json.Unmarshal(env.Result, &got))
	require.Equal(t, resp.Report, got)

	status, env = callRPC(t, srv, testToken, "ListReports", listReportsParams{Limit: 5})
	require.Equal(t, http.StatusOK, status)
	var entries []archive.Entry
	require.NoError(t, json.Unmarshal(env.Result, &entries))
	require.Len(t, entries, 1)

	status, _ = callRPC(t, srv, testToken, "GetReport", getReportParams{ID: "00000000-0000-0000-0000-000000000000"})
	require.Equal(t, http.StatusNotFound, status)
}

func TestRPCArchiveNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, false)
	status, _ := callRPC(t, srv, testToken, "ListReports", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = callRPC(t, srv, testToken, "DoSSweep", sweepParams{Sender: 1, Receiver: 1, Backbone: 1, FlowCounts: []int{1}, Archive: true})
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestRPCRunScenarios(t *testing.T) {
	srv, _ := newTestServer(t, false)
	status, env := callRPC(t, srv, testToken, "RunScenarios", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	require.Contains(t, string(env.Result), `"fair_share"`)
	require.NotContains(t, string(env.Result), `"single_path"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)
	callRPC(t, srv, testToken, "EndToEndThroughput", pathParams{Sender: 10, Links: []float64{5}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `netcap_evaluations_total{operation="end_to_end_throughput"} 1`)
}

func TestIdentity(t *testing.T) {
	srv, _ := newTestServer(t, false)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/identity", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.Ok)
	require.Contains(t, string(env.Result), `"version"`)
}

func dialSweep(t *testing.T, srv *httptest.Server, dialer *websocket.Dialer, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sweep"
	conn, _, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestSweepStream(t *testing.T) {
	srv, m := newTestServer(t, false)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn := dialSweep(t, srv, websocket.DefaultDialer, header)

	require.NoError(t, conn.WriteJSON(streamRequest{
		Type:   "sweep",
		Params: sweepParams{Sender: 100, Receiver: 100, Backbone: 1000, FlowCounts: []int{1, 10}},
	}))

	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "row", msg.Type)
	require.Equal(t, 1, msg.Row.FlowCount)
	require.Equal(t, risk.SeverityOK, msg.Row.Severity)

	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "row", msg.Type)
	require.Equal(t, risk.SeverityCritical, msg.Row.Severity)

	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "done", msg.Type)
	require.Equal(t, risk.SeverityCritical, msg.Worst)
	require.Equal(t, 2, msg.Rows)
	require.Equal(t, streamSchemaVersion, msg.SchemaVersion)
	require.EqualValues(t, 1, m.Evaluations(metrics.OpSweep))
}

func TestSweepStreamInvalidSendsNoRows(t *testing.T) {
	srv, _ := newTestServer(t, false)
	dialer := &websocket.Dialer{
		Subprotocols: []string{wsPrimaryProtocol, wsTokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(testToken))},
	}
	conn := dialSweep(t, srv, dialer, nil)

	require.NoError(t, conn.WriteJSON(streamRequest{
		Type:   "sweep",
		Params: sweepParams{Sender: 100, Receiver: 100, Backbone: 1000, FlowCounts: []int{1, 0, 10}},
	}))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "error", msg.Type)
	require.Contains(t, msg.Error, "flow count 0")
}

func TestSweepStreamUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, false)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sweep"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(1, 2, time.Minute)
	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	require.False(t, rl.Allow(""))
}

func TestSecureTokenEqual(t *testing.T) {
	require.True(t, secureTokenEqual("abc", "abc"))
	require.False(t, secureTokenEqual("abc", "abd"))
	require.False(t, secureTokenEqual("", ""))
}
