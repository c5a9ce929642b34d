// Package health implements the periodic probe/staleness cycle that keeps
// an endpoint.Table's healthy set current: every configured endpoint is
// probed for its block height concurrently, then classified against the
// freshest height seen this cycle.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/eth-rpc-relay/internal/endpoint"
)

// probeTimeout bounds each per-endpoint eth_blockNumber call.
const probeTimeout = 3 * time.Second

// RpcClient is the subset of httprpc.RpcClient the monitor needs. Defined
// locally so this package doesn't import httprpc just for an interface.
type RpcClient interface {
	Call(ctx context.Context, url, method string, params any) (json.RawMessage, error)
}

// Monitor runs the two-phase probe/staleness cycle against a Table on a
// shared, process-wide throttle.
type Monitor struct {
	table           *endpoint.Table
	client          RpcClient
	logger          *zap.Logger
	maxBlocksBehind uint64

	mu      sync.Mutex
	lastRun time.Time
}

// New builds a Monitor. maxBlocksBehind is the starting staleness
// threshold; a config reload replaces it through SetMaxBlocksBehind, so
// Monitor never holds a config snapshot of its own.
func New(table *endpoint.Table, client RpcClient, logger *zap.Logger, maxBlocksBehind int) *Monitor {
	return &Monitor{
		table:           table,
		client:          client,
		logger:          logger,
		maxBlocksBehind: uint64(maxBlocksBehind),
	}
}

// SetMaxBlocksBehind lets callers push a hot-reloaded threshold in without
// rebuilding the Monitor.
func (m *Monitor) SetMaxBlocksBehind(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBlocksBehind = uint64(n)
}

// MaybeRun runs UpdateStatuses if at least interval has elapsed since the
// last run, process-wide — the same throttle shared by the handler's
// opportunistic poke and the dashboard's render loop, so concurrent
// callers never trigger a double probe cycle.
func (m *Monitor) MaybeRun(ctx context.Context, now time.Time, interval time.Duration) {
	m.mu.Lock()
	if now.Sub(m.lastRun) < interval {
		m.mu.Unlock()
		return
	}
	m.lastRun = now
	m.mu.Unlock()

	if err := m.UpdateStatuses(ctx); err != nil {
		m.logger.Warn("health update failed", zap.Error(err))
	}
}

type probeResult struct {
	record  *endpoint.Record
	ok      bool
	block   uint64
	latency time.Duration
}

// UpdateStatuses runs Phase A (probe every endpoint concurrently) then
// Phase B (compute staleness against the max reported block among
// phase-A successes) and applies one Classification per endpoint in a
// single locked write, so no reader ever observes a half-updated record.
func (m *Monitor) UpdateStatuses(ctx context.Context) error {
	records := m.table.Records()
	results := make([]probeResult, len(records))

	g, gctx := errgroup.WithContext(context.Background())
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = m.probe(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var maxBlock uint64
	for _, r := range results {
		if r.ok && r.block > maxBlock {
			maxBlock = r.block
		}
	}

	m.mu.Lock()
	threshold := m.maxBlocksBehind
	m.mu.Unlock()

	for _, r := range results {
		if !r.ok {
			prev := r.record.View()
			r.record.Apply(endpoint.Classification{
				Healthy:     false,
				Behind:      endpoint.InfiniteBehind,
				Latency:     endpoint.InfiniteLatency,
				Errors:      prev.Errors + 1,
				LatestBlock: prev.LatestBlock, // a failed probe never clears the last known block
			})
			continue
		}

		behind := maxBlock - r.block
		healthy := behind <= threshold
		class := endpoint.Classification{
			Healthy:     healthy,
			LatestBlock: r.block,
			Latency:     r.latency,
			Errors:      0,
		}
		if healthy {
			class.Behind = behind
		} else {
			class.Behind = endpoint.InfiniteBehind
		}
		r.record.Apply(class)
	}

	return nil
}

// probe runs Phase A for a single endpoint: a bounded eth_blockNumber call,
// parsed as a hex quantity. Failure (timeout, transport, unparseable
// result) never overwrites latest_block — Apply below only changes it on
// success.
func (m *Monitor) probe(ctx context.Context, rec *endpoint.Record) probeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	raw, err := m.client.Call(ctx, rec.URL(), "eth_blockNumber", []any{})
	latency := time.Since(start)
	if err != nil {
		return probeResult{record: rec, ok: false}
	}

	block, err := parseHexQuantity(raw)
	if err != nil {
		return probeResult{record: rec, ok: false}
	}

	return probeResult{record: rec, ok: true, block: block, latency: latency}
}

// parseHexQuantity decodes a JSON-RPC quantity result (a quoted 0x-prefixed
// hex string) into a uint64.
func parseHexQuantity(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decode block number string: %w", err)
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty block number")
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex block number %q", s)
	}
	return n.Uint64(), nil
}
