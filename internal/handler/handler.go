// Package handler orchestrates one JSON-RPC request end to end: reload
// check, opportunistic health-monitor run, the two param rewrites,
// cache lookup, endpoint selection, the nonce pre-check, the outbound
// forward, and cache fill.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/you/eth-rpc-relay/internal/cache"
	"github.com/you/eth-rpc-relay/internal/configstore"
	"github.com/you/eth-rpc-relay/internal/endpoint"
	"github.com/you/eth-rpc-relay/internal/health"
	"github.com/you/eth-rpc-relay/internal/httprpc"
	"github.com/you/eth-rpc-relay/internal/jsonrpc"
	"github.com/you/eth-rpc-relay/internal/metrics"
	"github.com/you/eth-rpc-relay/internal/selector"
)

const (
	noncePrecheckTimeout = 10 * time.Second
	forwardTimeout       = 30 * time.Second
)

// Selector is the subset of selector.Selector the handler depends on.
type Selector interface {
	Select(ctx context.Context, latency selector.LatencyThreshold) (endpoint.View, error)
}

// Handler wires every relay collaborator together behind one
// http.Handler. All fields are safe for concurrent use by multiple
// in-flight requests.
type Handler struct {
	Config   *configstore.Store
	Table    *endpoint.Table
	Monitor  *health.Monitor
	Cache    *cache.Cache
	Selector Selector
	Client   httprpc.RpcClient
	Metrics  *metrics.Registry
	Logger   *zap.Logger

	nowFn func() time.Time
}

// New builds a Handler from its collaborators.
func New(cfg *configstore.Store, table *endpoint.Table, monitor *health.Monitor, c *cache.Cache, sel Selector, client httprpc.RpcClient, reg *metrics.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		Config:   cfg,
		Table:    table,
		Monitor:  monitor,
		Cache:    c,
		Selector: sel,
		Client:   client,
		Metrics:  reg,
		Logger:   logger,
		nowFn:    time.Now,
	}
}

// ToTableSpec converts a config snapshot's tiered endpoint lists into the
// endpoint table's own spec type.
func ToTableSpec(cfg *configstore.Config) endpoint.TableSpec {
	spec := endpoint.TableSpec{}
	for _, e := range cfg.RPCEndpoints.Primary {
		spec.Primary = append(spec.Primary, endpoint.Spec{URL: e.URL, Weight: e.Weight, MaxTPS: e.MaxTPS})
	}
	for _, e := range cfg.RPCEndpoints.Secondary {
		spec.Secondary = append(spec.Secondary, endpoint.Spec{URL: e.URL, Weight: e.Weight, MaxTPS: e.MaxTPS})
	}
	return spec
}

// ReloadConfig runs the throttled reload check and, if a change was
// published, applies it to the endpoint table, cache, and health monitor.
// The config store hands the ReloadEvent to exactly one caller per
// change, so whichever caller wins the throttle — a request, the status
// endpoint, or the dashboard loop — must also be the one to apply it;
// discarding the event here would drop the rebuild for good.
func (h *Handler) ReloadConfig(now time.Time) *configstore.Config {
	event, err := h.Config.MaybeReload(now)
	if err != nil {
		h.Logger.Warn("config reload failed", zap.Error(err))
	}
	cfg := h.Config.Current()
	if event != nil {
		h.Table.Rebuild(ToTableSpec(cfg))
		h.Cache.SetTTLs(cfg.CacheTTL)
		h.Monitor.SetMaxBlocksBehind(cfg.HealthMonitor.MaxBlocksBehind)
		h.Logger.Info("applied config reload", zap.Strings("changed", event.Changed))
	}
	return cfg
}

// Routes builds the relay's HTTP surface: GET / is a liveness check, POST
// / is the JSON-RPC endpoint, GET /status is the endpoint table snapshot,
// and GET /metrics exposes Prometheus collectors.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ServeLiveness(w, r)
		case http.MethodPost:
			h.ServeRPC(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/status", h.ServeStatus)
	mux.Handle("/metrics", h.Metrics.Handler())
	return mux
}

// ServeRPC runs the full relay pipeline for a single POST / request:
// reload check, monitor poke, parse, rewrites, cache, select, record,
// forward, cache fill.
func (h *Handler) ServeRPC(w http.ResponseWriter, r *http.Request) {
	now := h.nowFn()
	ctx := r.Context()

	cfg := h.ReloadConfig(now)
	h.Monitor.MaybeRun(ctx, now, time.Duration(cfg.Relay.MonitorInterval)*time.Second)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, -32603, fmt.Sprintf("reading request body: %v", err))
		return
	}

	req := jsonrpc.ParseRequest(body)
	h.Metrics.RequestsTotal.WithLabelValues(req.Method).Inc()

	params, err := jsonrpc.DecodeParams(req.Params)
	if err != nil {
		params = []any{}
	}
	params = jsonrpc.RewritePendingNonce(req.Method, params)

	if h.Cache.Cacheable(req.Method) {
		if cached, ok := h.Cache.Lookup(req.Method, params, req.ID, now); ok {
			h.Metrics.CacheHits.Inc()
			h.writeRaw(w, cached)
			return
		}
		h.Metrics.CacheMisses.Inc()
	}

	selectStart := h.nowFn()
	view, err := h.Selector.Select(ctx, latencyThreshold(cfg))
	h.Metrics.ObserveSelection(h.nowFn().Sub(selectStart))
	if err != nil {
		h.Metrics.NoHealthyErrors.Inc()
		h.writeError(w, req.ID, -32000, "No healthy RPCs available")
		return
	}

	h.Table.RecordCall(view.URL, now)
	h.Metrics.TotalCalls.Inc()

	params = h.noncePrecheck(ctx, view.URL, req.Method, params)

	encodedParams, err := json.Marshal(params)
	if err != nil {
		h.writeError(w, req.ID, -32603, fmt.Sprintf("Upstream provider error: encoding params: %v", err))
		return
	}
	outbound := jsonrpc.Request{JSONRPC: "2.0", ID: req.ID, Method: req.Method, Params: encodedParams}

	forwardCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	start := h.nowFn()
	response, err := h.Client.Forward(forwardCtx, view.URL, outbound)
	h.Metrics.ObserveForward(view.URL, h.nowFn().Sub(start))
	if err != nil {
		h.Metrics.UpstreamErrors.WithLabelValues(view.URL).Inc()
		h.writeError(w, req.ID, -32603, fmt.Sprintf("Upstream provider error: %v", err))
		return
	}

	if h.Cache.Cacheable(req.Method) {
		h.Cache.Store(req.Method, params, response, now)
	}

	h.Metrics.ForwardedTotal.Inc()
	h.writeRaw(w, response)
}

// noncePrecheck implements rewrite 2: for an eth_sendTransaction or
// personal_sendTransaction call whose params[0] is an object with a "from" field, it asks the selected
// endpoint for that address's pending nonce and overwrites
// params[0].nonce if it differs. Any failure is logged and ignored — the
// caller always gets back usable params, rewritten or not.
func (h *Handler) noncePrecheck(ctx context.Context, url, method string, params any) any {
	if method != "eth_sendTransaction" && method != "personal_sendTransaction" {
		return params
	}
	obj, ok := jsonrpc.ArrayIndex(params, 0)
	if !ok {
		return params
	}
	txObj, ok := jsonrpc.AsObject(obj)
	if !ok {
		return params
	}
	from, ok := jsonrpc.GetString(txObj, "from")
	if !ok {
		return params
	}

	ctx, cancel := context.WithTimeout(ctx, noncePrecheckTimeout)
	defer cancel()

	raw, err := h.Client.Call(ctx, url, "eth_getTransactionCount", []any{from, "pending"})
	if err != nil {
		h.Logger.Debug("nonce precheck failed", zap.Error(err), zap.String("from", from))
		return params
	}

	var nonce string
	if err := json.Unmarshal(raw, &nonce); err != nil {
		h.Logger.Debug("nonce precheck returned non-string result", zap.Error(err))
		return params
	}
	if nonce == "" || txObj["nonce"] == nonce {
		return params
	}

	txObj["nonce"] = nonce
	arr, _ := params.([]any)
	rewritten := make([]any, len(arr))
	copy(rewritten, arr)
	rewritten[0] = txObj
	return rewritten
}

func latencyThreshold(cfg *configstore.Config) selector.LatencyThreshold {
	if cfg.Relay.LatencyThresholdMS == nil {
		return selector.LatencyThreshold{}
	}
	return selector.LatencyThreshold{
		Configured: true,
		Threshold:  time.Duration(*cfg.Relay.LatencyThresholdMS) * time.Millisecond,
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := jsonrpc.NewErrorResponse(id, code, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(resp)
}
