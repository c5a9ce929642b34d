// Package selector implements the six-stage endpoint-picking pipeline:
// prune, rate-limit filter, tier split, weight expansion, latency filter,
// round-robin.
package selector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/you/eth-rpc-relay/internal/endpoint"
)

// ErrNoHealthyEndpoints is returned when the healthy set is empty and
// there is nothing for the pipeline to pick from or wait on.
var ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")

const rateLimitRetryDelay = 50 * time.Millisecond

// Selector picks one endpoint per call from a Table's healthy set,
// honoring per-endpoint rate limits, tier fallback, weight bias, and an
// optional latency cutoff, via a process-wide round-robin counter.
type Selector struct {
	table   *endpoint.Table
	counter atomic.Uint64

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New builds a Selector backed by table, using wall-clock time and a real
// sleep.
func New(table *endpoint.Table) *Selector {
	return &Selector{
		table:   table,
		nowFn:   time.Now,
		sleepFn: ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatencyThreshold is the optional relay.latency_threshold_ms knob,
// expressed as a duration; zero means "not configured".
type LatencyThreshold struct {
	Configured bool
	Threshold  time.Duration
}

// Select runs the six-stage pipeline. It blocks, retrying every 50ms,
// until at least one candidate survives rate limiting — there is no
// upper bound on this wait. Returns ctx's error if ctx is done during a
// wait, and ErrNoHealthyEndpoints if the healthy set is empty on any pass
// (nothing to retry for).
func (s *Selector) Select(ctx context.Context, latency LatencyThreshold) (endpoint.View, error) {
	for {
		healthy := s.table.SnapshotHealthy()
		if len(healthy) == 0 {
			return endpoint.View{}, ErrNoHealthyEndpoints
		}

		now := s.nowFn()
		survivors := s.rateLimitFilter(healthy, now)
		if len(survivors) == 0 {
			if err := s.sleepFn(ctx, rateLimitRetryDelay); err != nil {
				return endpoint.View{}, err
			}
			continue
		}

		tiered := tierSplit(survivors)
		weighted := expandByWeight(tiered)
		filtered := latencyFilter(weighted, latency)

		n := uint64(len(filtered))
		i := s.counter.Add(1) - 1
		return filtered[i%n], nil
	}
}

// rateLimitFilter prunes each candidate's window to the 60s retention
// bound and keeps it iff max_tps == 0 or its 1s send count is below
// max_tps.
func (s *Selector) rateLimitFilter(views []endpoint.View, now time.Time) []endpoint.View {
	out := make([]endpoint.View, 0, len(views))
	for _, v := range views {
		count, ok := s.table.RateInfo(v.URL, now)
		if !ok {
			continue
		}
		if v.MaxTPS == 0 || count < v.MaxTPS {
			out = append(out, v)
		}
	}
	return out
}

// tierSplit keeps primaries only if any survived; otherwise falls back
// to secondaries.
func tierSplit(views []endpoint.View) []endpoint.View {
	var primaries []endpoint.View
	for _, v := range views {
		if v.Tier == endpoint.Primary {
			primaries = append(primaries, v)
		}
	}
	if len(primaries) > 0 {
		return primaries
	}
	var secondaries []endpoint.View
	for _, v := range views {
		if v.Tier == endpoint.Secondary {
			secondaries = append(secondaries, v)
		}
	}
	return secondaries
}

// expandByWeight repeats each view weight times, preserving first-seen
// order, so higher-weight endpoints occupy proportionally more slots in
// the round-robin rotation.
func expandByWeight(views []endpoint.View) []endpoint.View {
	out := make([]endpoint.View, 0, len(views))
	for _, v := range views {
		weight := v.Weight
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			out = append(out, v)
		}
	}
	return out
}

// latencyFilter applies the optional latency_threshold_ms cutoff. If no
// candidate is under the threshold, it falls back to those tied for the
// minimum latency in the weighted list, so the pipeline never empties out
// because of this stage alone.
func latencyFilter(views []endpoint.View, lt LatencyThreshold) []endpoint.View {
	if !lt.Configured {
		return views
	}

	under := make([]endpoint.View, 0, len(views))
	for _, v := range views {
		if v.Latency < lt.Threshold {
			under = append(under, v)
		}
	}
	if len(under) > 0 {
		return under
	}

	min := endpoint.InfiniteLatency
	for _, v := range views {
		if v.Latency < min {
			min = v.Latency
		}
	}
	tied := make([]endpoint.View, 0, len(views))
	for _, v := range views {
		if v.Latency == min {
			tied = append(tied, v)
		}
	}
	return tied
}
