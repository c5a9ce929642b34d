// Package endpoint holds the ordered table of upstream RPC providers and
// their mutable per-endpoint counters — the health monitor and selector
// both read and write through it, so the locking here is what makes the
// rest of the relay's concurrency story hold together.
package endpoint

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Tier is the priority class an endpoint was declared under.
type Tier int

const (
	Primary Tier = iota
	Secondary
)

// InfiniteBehind and InfiniteLatency are sentinels for "unknown" — Go has
// no infinite int or duration, so the largest representable value of each
// stands in whenever an endpoint's lag or latency is unknown or it has
// been classified unhealthy.
const (
	InfiniteBehind  = uint64(math.MaxUint64)
	InfiniteLatency = time.Duration(math.MaxInt64)
)

// Spec describes one configured endpoint, independent of the YAML
// config types.
type Spec struct {
	URL    string
	Weight int
	MaxTPS int
}

// TableSpec is the tiered endpoint list a reload or startup publishes.
type TableSpec struct {
	Primary   []Spec
	Secondary []Spec
}

// View is an immutable snapshot of one endpoint's state, safe to read
// without holding any lock — this is what the selector, cache-adjacent
// handler code, and the /status projection all consume.
type View struct {
	URL         string
	Tier        Tier
	Weight      int
	MaxTPS      int
	Healthy     bool
	LatestBlock uint64
	Behind      uint64
	Latency     time.Duration
	Errors      uint64
	CallCount   uint64
}

// Record is the mutable per-endpoint state. Every field after the mutex
// is guarded by it; a reader always sees either the whole pre-cycle or
// whole post-cycle state for an endpoint, never a partial mix.
type Record struct {
	mu sync.Mutex

	url    string
	tier   Tier
	weight int
	maxTPS int

	healthy     bool
	latestBlock uint64
	behind      uint64
	latency     time.Duration
	errors      uint64
	callCount   uint64
	window      Window
}

func newRecord(spec Spec, tier Tier) *Record {
	return &Record{
		url:     spec.URL,
		tier:    tier,
		weight:  normalizeWeight(spec.Weight),
		maxTPS:  spec.MaxTPS,
		healthy: false,
		behind:  InfiniteBehind,
		latency: InfiniteLatency,
	}
}

func normalizeWeight(w int) int {
	if w < 1 {
		return 1
	}
	return w
}

// View returns a lock-protected snapshot of the record's current state.
func (r *Record) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		URL:         r.url,
		Tier:        r.tier,
		Weight:      r.weight,
		MaxTPS:      r.maxTPS,
		Healthy:     r.healthy,
		LatestBlock: r.latestBlock,
		Behind:      r.behind,
		Latency:     r.latency,
		Errors:      r.errors,
		CallCount:   r.callCount,
	}
}

// Classification is the fully-computed post-probe state the health
// monitor applies in one shot, so a concurrent reader never observes a
// mix of old and new fields for the same cycle.
type Classification struct {
	Healthy     bool
	LatestBlock uint64
	Behind      uint64
	Latency     time.Duration
	Errors      uint64
}

// Apply writes a Classification computed by the health monitor.
func (r *Record) Apply(c Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = c.Healthy
	r.latestBlock = c.LatestBlock
	r.behind = c.Behind
	r.latency = c.Latency
	r.errors = c.Errors
}

func (r *Record) setWeights(weight, maxTPS int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weight = normalizeWeight(weight)
	r.maxTPS = maxTPS
}

func (r *Record) recordCall(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.Append(ts)
	r.callCount++
}

// rateInfo prunes the window to the 60s retention bound and returns the
// count of sends within the last second — step 1 and the start of step 2
// of the selector pipeline, combined so both happen under one lock.
func (r *Record) rateInfo(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.Prune(now.Add(-60 * time.Second))
	return r.window.CountSince(now.Add(-1 * time.Second))
}

// rateCounts prunes the window and returns sends within the last second
// and the last minute, for the dashboard's TPS/TPM columns.
func (r *Record) rateCounts(now time.Time) (tps, tpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.Prune(now.Add(-60 * time.Second))
	return r.window.CountSince(now.Add(-1 * time.Second)), r.window.Len()
}

// Table is the ordered collection of endpoint records — primary tier
// first in declared order, then secondary. A single RWMutex guards the
// map/order structures; per-Record
// locks guard the mutable counters, so readers of one endpoint are never
// blocked by writers to another.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []*Record
}

// NewTable builds a table from an initial spec.
func NewTable(spec TableSpec) *Table {
	t := &Table{records: make(map[string]*Record)}
	t.Rebuild(spec)
	return t
}

// Rebuild applies a new tiered endpoint list. If the set of URLs is
// unchanged from the current table, this degrades to UpdateWeights (only
// weight/max_tps can have changed); otherwise a fresh ordered list is
// built, carrying over call_count, timestamps, and latest_block for any
// URL present in both the old and new sets.
func (t *Table) Rebuild(spec TableSpec) {
	newURLs := make(map[string]struct{}, len(spec.Primary)+len(spec.Secondary))
	for _, s := range spec.Primary {
		newURLs[s.URL] = struct{}{}
	}
	for _, s := range spec.Secondary {
		newURLs[s.URL] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sameURLSetLocked(newURLs) {
		t.applyWeightsLocked(spec)
		return
	}

	order := make([]*Record, 0, len(newURLs))
	records := make(map[string]*Record, len(newURLs))
	for _, s := range spec.Primary {
		rec := t.carryOverOrNewLocked(s, Primary)
		order = append(order, rec)
		records[s.URL] = rec
	}
	for _, s := range spec.Secondary {
		rec := t.carryOverOrNewLocked(s, Secondary)
		order = append(order, rec)
		records[s.URL] = rec
	}

	t.records = records
	t.order = order
}

func (t *Table) sameURLSetLocked(newURLs map[string]struct{}) bool {
	if len(newURLs) != len(t.records) {
		return false
	}
	for url := range newURLs {
		if _, ok := t.records[url]; !ok {
			return false
		}
	}
	return true
}

func (t *Table) applyWeightsLocked(spec TableSpec) {
	for _, s := range spec.Primary {
		if rec, ok := t.records[s.URL]; ok {
			rec.setWeights(s.Weight, s.MaxTPS)
		}
	}
	for _, s := range spec.Secondary {
		if rec, ok := t.records[s.URL]; ok {
			rec.setWeights(s.Weight, s.MaxTPS)
		}
	}
}

func (t *Table) carryOverOrNewLocked(s Spec, tier Tier) *Record {
	if existing, ok := t.records[s.URL]; ok {
		existing.mu.Lock()
		existing.tier = tier
		existing.weight = normalizeWeight(s.Weight)
		existing.maxTPS = s.MaxTPS
		existing.mu.Unlock()
		return existing
	}
	return newRecord(s, tier)
}

// UpdateWeights overwrites only weight and max_tps across the table,
// without touching the URL set — used when a reload is known to preserve
// the set of endpoints.
func (t *Table) UpdateWeights(spec TableSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyWeightsLocked(spec)
}

// RecordCall appends ts to the endpoint's window and increments its call
// count; a no-op if the URL is not in the table.
func (t *Table) RecordCall(url string, ts time.Time) {
	t.mu.RLock()
	rec, ok := t.records[url]
	t.mu.RUnlock()
	if !ok {
		return
	}
	rec.recordCall(ts)
}

// RateInfo prunes url's window to the 60s bound and returns its current
// 1s send count, or (0, false) if the URL is unknown.
func (t *Table) RateInfo(url string, now time.Time) (int, bool) {
	t.mu.RLock()
	rec, ok := t.records[url]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return rec.rateInfo(now), true
}

// RateCounts returns url's send counts over the last second and minute,
// or ok=false if the URL is unknown.
func (t *Table) RateCounts(url string, now time.Time) (tps, tpm int, ok bool) {
	t.mu.RLock()
	rec, found := t.records[url]
	t.mu.RUnlock()
	if !found {
		return 0, 0, false
	}
	tps, tpm = rec.rateCounts(now)
	return tps, tpm, true
}

// Records returns the table's current records in tier order, for
// components (the health monitor) that need to write classifications
// directly.
func (t *Table) Records() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Record, len(t.order))
	copy(out, t.order)
	return out
}

// SnapshotHealthy returns healthy endpoints sorted by (behind asc,
// latency asc), ties broken by input order.
func (t *Table) SnapshotHealthy() []View {
	all := t.SnapshotAll()
	healthy := make([]View, 0, len(all))
	for _, v := range all {
		if v.Healthy {
			healthy = append(healthy, v)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		if healthy[i].Behind != healthy[j].Behind {
			return healthy[i].Behind < healthy[j].Behind
		}
		return healthy[i].Latency < healthy[j].Latency
	})
	return healthy
}

// SnapshotAll returns every endpoint's current view, in table order.
func (t *Table) SnapshotAll() []View {
	records := t.Records()
	out := make([]View, len(records))
	for i, rec := range records {
		out[i] = rec.View()
	}
	return out
}

// URL exposes a Record's URL for callers that only have the pointer from
// Records() — needed by the health monitor to address its probes.
func (r *Record) URL() string { return r.url }
