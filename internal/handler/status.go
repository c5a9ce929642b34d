package handler

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/you/eth-rpc-relay/internal/endpoint"
)

// endpointProjection is the wire shape of one row in the /status
// snapshot. Behind and Latency use JSON-native types so a machine
// consumer gets the largest representable sentinel rather than the
// literal "∞" string the terminal dashboard prints for a human reader.
type endpointProjection struct {
	URL         string  `json:"url"`
	MaxTPS      int     `json:"max_tps"`
	Healthy     bool    `json:"healthy"`
	Behind      uint64  `json:"behind"`
	LatestBlock uint64  `json:"latest_block"`
	Latency     float64 `json:"latency"`
	Errors      uint64  `json:"errors"`
	CallCount   uint64  `json:"call_count"`
}

func projectEndpoint(v endpoint.View) endpointProjection {
	latency := v.Latency.Seconds()
	if v.Latency == endpoint.InfiniteLatency {
		latency = math.MaxFloat64
	}
	return endpointProjection{
		URL:         v.URL,
		MaxTPS:      v.MaxTPS,
		Healthy:     v.Healthy,
		Behind:      v.Behind,
		LatestBlock: v.LatestBlock,
		Latency:     latency,
		Errors:      v.Errors,
		CallCount:   v.CallCount,
	}
}

// ServeLiveness handles GET / — a bare liveness check, independent of
// endpoint health.
func (h *Handler) ServeLiveness(w http.ResponseWriter, r *http.Request) {
	h.ReloadConfig(h.nowFn())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ServeStatus handles GET /status — a full snapshot of every configured
// endpoint, healthy or not, in table order.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	h.ReloadConfig(h.nowFn())

	views := h.Table.SnapshotAll()
	rpcs := make([]endpointProjection, len(views))
	for i, v := range views {
		rpcs[i] = projectEndpoint(v)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rpcs": rpcs})
}
