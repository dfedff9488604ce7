package control

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/config"
	"github.com/NodePath81/netcap/internal/metrics"
	"github.com/NodePath81/netcap/internal/model"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
	"github.com/NodePath81/netcap/internal/util"
	"github.com/NodePath81/netcap/internal/version"
)

const (
	maxRPCBodyBytes   = 1 << 20
	rpcRatePerSecond  = 20
	rpcRateBurst      = 40
	wsTokenPrefix     = "netcap-token."
	wsPrimaryProtocol = "netcap"
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

// Archive is the report history used by DoSSweep, ListReports and GetReport.
type Archive interface {
	Save(ctx context.Context, rep risk.Report) (string, error)
	Get(ctx context.Context, id string) (risk.Report, error)
	List(ctx context.Context, limit int) ([]archive.Entry, error)
}

type ControlServer struct {
	doc      config.Document
	cfg      config.ControlConfig
	archive  Archive
	metrics  *metrics.Metrics
	reloadFn func() error
	logger   util.Logger
	server   *http.Server
	limiter  *rateLimiter
}

// NewControlServer builds a server for doc. store may be nil when no archive
// is configured.
func NewControlServer(doc config.Document, store Archive, metrics *metrics.Metrics, reloadFn func() error, logger util.Logger) *ControlServer {
	return &ControlServer{
		doc:      doc,
		cfg:      doc.Control,
		archive:  store,
		metrics:  metrics,
		reloadFn: reloadFn,
		logger:   logger,
		limiter:  newRateLimiter(rpcRatePerSecond, rpcRateBurst, 5*time.Minute),
	}
}

func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", c.handleMetrics)
	}
	mux.HandleFunc("/rpc", c.handleRPC)
	mux.HandleFunc("/sweep", c.handleSweepStream)
	mux.HandleFunc("/identity", c.handleIdentity)
	return mux
}

func (c *ControlServer) Start(ctx context.Context) error {
	addr := util.NetJoin(c.cfg.BindAddr, c.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, c.cfg.MaxConnections)
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", addr, "max_connections", c.cfg.MaxConnections)
	return nil
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type pathParams struct {
	Sender    float64   `json:"sender"`
	Links     []float64 `json:"links"`
	LinkNames []string  `json:"link_names"`
}

type perFlowParams struct {
	Sender   float64 `json:"sender"`
	Receiver float64 `json:"receiver"`
	Backbone float64 `json:"backbone"`
	Flows    int     `json:"flows"`
}

type effectiveParams struct {
	Links        []float64 `json:"links"`
	Efficiencies []float64 `json:"efficiencies"`
}

type sweepParams struct {
	Sender        float64  `json:"sender"`
	Receiver      float64  `json:"receiver"`
	Backbone      float64  `json:"backbone"`
	FlowCounts    []int    `json:"flow_counts"`
	WarnThreshold *float64 `json:"warn_threshold"`
	Archive       bool     `json:"archive"`
}

func (p sweepParams) riskParams() risk.Params {
	return risk.Params{
		SenderMbps:    p.Sender,
		ReceiverMbps:  p.Receiver,
		BackboneMbps:  p.Backbone,
		FlowCounts:    p.FlowCounts,
		WarnThreshold: util.FloatValue(p.WarnThreshold, risk.DefaultWarnThreshold),
	}
}

type listReportsParams struct {
	Limit int `json:"limit"`
}

type getReportParams struct {
	ID string `json:"id"`
}

type throughputResponse struct {
	ThroughputMbps float64 `json:"throughput_mbps"`
}

type perFlowResponse struct {
	PerFlowMbps float64 `json:"per_flow_throughput_mbps"`
}

type effectiveResponse struct {
	EffectiveMbps []float64 `json:"effective_links_mbps"`
}

type sweepResponse struct {
	ID     string      `json:"id,omitempty"`
	Report risk.Report `json:"report"`
}

type identityResponse struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

func (c *ControlServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}
	switch req.Method {
	case "EndToEndThroughput":
		var params pathParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		t, err := model.EndToEndThroughput(params.Sender, params.Links)
		c.metrics.Observe(metrics.OpEndToEnd, err)
		c.reply(w, throughputResponse{ThroughputMbps: t}, err)
	case "BottleneckInfo":
		var params pathParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		b, err := model.BottleneckInfo(params.Sender, params.Links, params.LinkNames)
		c.metrics.Observe(metrics.OpBottleneck, err)
		c.reply(w, b, err)
	case "PerFlowThroughput":
		var params perFlowParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		t, err := model.PerFlowThroughputSharedBackbone(params.Sender, params.Receiver, params.Backbone, params.Flows)
		c.metrics.Observe(metrics.OpPerFlow, err)
		c.reply(w, perFlowResponse{PerFlowMbps: t}, err)
	case "EffectiveLinkRates":
		var params effectiveParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		eff, err := model.EffectiveLinkRates(params.Links, params.Efficiencies)
		c.metrics.Observe(metrics.OpEffectiveLinks, err)
		c.reply(w, effectiveResponse{EffectiveMbps: eff}, err)
	case "DoSSweep":
		var params sweepParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		c.runSweep(w, r, params)
	case "RunScenarios":
		reps, err := scenario.RunAll(c.doc)
		c.metrics.Observe(metrics.OpScenarios, err)
		if err == nil && reps.DoSSweep != nil {
			c.metrics.ObserveReport(*reps.DoSSweep)
		}
		c.reply(w, reps, err)
	case "ListReports":
		if c.archive == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "archive not configured"})
			return
		}
		var params listReportsParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		entries, err := c.archive.List(r.Context(), params.Limit)
		c.reply(w, entries, err)
	case "GetReport":
		if c.archive == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "archive not configured"})
			return
		}
		var params getReportParams
		if !decodeParams(w, req.Params, &params) {
			return
		}
		rep, err := c.archive.Get(r.Context(), strings.TrimSpace(params.ID))
		c.reply(w, rep, err)
	case "Reload":
		if c.reloadFn == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "reload not available"})
			return
		}
		go func() {
			c.logger.Info("reload invoked")
			if err := c.reloadFn(); err != nil {
				c.logger.Error("reload failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func (c *ControlServer) runSweep(w http.ResponseWriter, r *http.Request, params sweepParams) {
	p := params.riskParams()
	c.warnThreshold(p.WarnThreshold)
	rep, err := risk.Sweep(p)
	c.metrics.Observe(metrics.OpSweep, err)
	if err != nil {
		c.reply(w, nil, err)
		return
	}
	c.metrics.ObserveReport(rep)
	resp := sweepResponse{Report: rep}
	if params.Archive {
		if c.archive == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "archive not configured"})
			return
		}
		id, err := c.archive.Save(r.Context(), rep)
		if err != nil {
			c.logger.Error("archive save failed", "error", err)
			c.reply(w, nil, err)
			return
		}
		resp.ID = id
		c.logger.Info("sweep archived", "id", id, "worst", rep.Worst())
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: resp})
}

func (c *ControlServer) warnThreshold(th float64) {
	if th < risk.CriticalHeadroom {
		c.logger.Warn("warn threshold below critical cutoff; WARN band is unreachable",
			"warn_threshold", th, "critical", risk.CriticalHeadroom)
	}
}

func (c *ControlServer) reply(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		writeJSON(w, statusForError(err), rpcResponse{Ok: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: result})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeParams(w http.ResponseWriter, raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
		return false
	}
	return true
}

func (c *ControlServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	name, _ := os.Hostname()
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: identityResponse{
		Hostname: name,
		Version:  version.Version,
	}})
}

func (c *ControlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c.metrics.Handler(w, r)
}

func (c *ControlServer) checkAuth(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, c.cfg.AuthToken)
}

func (c *ControlServer) checkStreamAuth(r *http.Request) bool {
	if token, ok := bearerToken(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	if token, ok := tokenFromWebSocketProtocols(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func tokenFromWebSocketProtocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if !strings.HasPrefix(proto, wsTokenPrefix) {
			continue
		}
		encoded := strings.TrimPrefix(proto, wsTokenPrefix)
		if encoded == "" {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded), true
	}
	return "", false
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    float64
	burst   float64
	ttl     time.Duration
}

type clientLimiter struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rate float64, burst int, ttl time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate,
		burst:   float64(burst),
		ttl:     ttl,
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter := r.clients[key]
	if limiter != nil && now.Sub(limiter.last) > r.ttl {
		delete(r.clients, key)
		limiter = nil
	}
	if limiter == nil {
		r.clients[key] = &clientLimiter{
			tokens: r.burst - 1,
			last:   now,
		}
		return true
	}
	elapsed := now.Sub(limiter.last).Seconds()
	limiter.tokens = min(r.burst, limiter.tokens+elapsed*r.rate)
	limiter.last = now
	if limiter.tokens < 1 {
		return false
	}
	limiter.tokens -= 1
	return true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
