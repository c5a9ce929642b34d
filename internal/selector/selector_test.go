package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/eth-rpc-relay/internal/endpoint"
)

func healthyTable(t *testing.T, specs endpoint.TableSpec) *endpoint.Table {
	t.Helper()
	tbl := endpoint.NewTable(specs)
	for _, rec := range tbl.Records() {
		rec.Apply(endpoint.Classification{Healthy: true, Behind: 0, Latency: 10 * time.Millisecond})
	}
	return tbl
}

func TestSelectReturnsErrorWhenNoHealthyEndpoints(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{Primary: []endpoint.Spec{{URL: "https://a"}}})
	s := New(tbl)
	_, err := s.Select(context.Background(), LatencyThreshold{})
	assert.ErrorIs(t, err, ErrNoHealthyEndpoints)
}

func TestSelectPrefersPrimaryTierWhenAvailable(t *testing.T) {
	tbl := healthyTable(t, endpoint.TableSpec{
		Primary:   []endpoint.Spec{{URL: "https://p1", Weight: 1}},
		Secondary: []endpoint.Spec{{URL: "https://s1", Weight: 1}},
	})
	s := New(tbl)
	for i := 0; i < 5; i++ {
		v, err := s.Select(context.Background(), LatencyThreshold{})
		require.NoError(t, err)
		assert.Equal(t, "https://p1", v.URL)
	}
}

func TestSelectFallsBackToSecondaryWhenNoPrimaryHealthy(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{
		Primary:   []endpoint.Spec{{URL: "https://p1", Weight: 1}},
		Secondary: []endpoint.Spec{{URL: "https://s1", Weight: 1}},
	})
	for _, rec := range tbl.Records() {
		if rec.URL() == "https://s1" {
			rec.Apply(endpoint.Classification{Healthy: true, Latency: 10 * time.Millisecond})
		}
	}
	s := New(tbl)
	v, err := s.Select(context.Background(), LatencyThreshold{})
	require.NoError(t, err)
	assert.Equal(t, "https://s1", v.URL)
}

func TestSelectRoundRobinsByWeight(t *testing.T) {
	tbl := healthyTable(t, endpoint.TableSpec{
		Primary: []endpoint.Spec{
			{URL: "https://a", Weight: 1},
			{URL: "https://b", Weight: 2},
		},
	})
	s := New(tbl)
	var urls []string
	for i := 0; i < 3; i++ {
		v, err := s.Select(context.Background(), LatencyThreshold{})
		require.NoError(t, err)
		urls = append(urls, v.URL)
	}
	// expansion order is [a, b, b] repeating; round-robin visits a, b, b
	assert.Equal(t, []string{"https://a", "https://b", "https://b"}, urls)
}

func TestSelectDefersUntilRateLimitClears(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{Primary: []endpoint.Spec{{URL: "https://a", Weight: 1, MaxTPS: 1}}})
	for _, rec := range tbl.Records() {
		rec.Apply(endpoint.Classification{Healthy: true, Latency: 10 * time.Millisecond})
	}

	base := time.Now()
	tbl.RecordCall("https://a", base) // saturate the 1 tps budget

	s := New(tbl)
	var calls []time.Time
	s.nowFn = func() time.Time {
		if len(calls) == 0 {
			calls = append(calls, base)
			return base
		}
		// second call onward: window has aged past 1s
		return base.Add(2 * time.Second)
	}
	sleptFor := 0
	s.sleepFn = func(ctx context.Context, d time.Duration) error {
		sleptFor++
		return nil
	}

	v, err := s.Select(context.Background(), LatencyThreshold{})
	require.NoError(t, err)
	assert.Equal(t, "https://a", v.URL)
	assert.Equal(t, 1, sleptFor)
}

func TestSelectRespectsContextCancellationDuringRateLimitWait(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{Primary: []endpoint.Spec{{URL: "https://a", MaxTPS: 1}}})
	for _, rec := range tbl.Records() {
		rec.Apply(endpoint.Classification{Healthy: true, Latency: 10 * time.Millisecond})
	}
	tbl.RecordCall("https://a", time.Now())

	s := New(tbl)
	s.nowFn = time.Now
	ctx, cancel := context.WithCancel(context.Background())
	s.sleepFn = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := s.Select(ctx, LatencyThreshold{})
	assert.Error(t, err)
}

func TestLatencyFilterFallsBackToMinimumWhenNoneUnderThreshold(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{
		Primary: []endpoint.Spec{{URL: "https://a"}, {URL: "https://b"}},
	})
	for _, rec := range tbl.Records() {
		switch rec.URL() {
		case "https://a":
			rec.Apply(endpoint.Classification{Healthy: true, Latency: 200 * time.Millisecond})
		case "https://b":
			rec.Apply(endpoint.Classification{Healthy: true, Latency: 150 * time.Millisecond})
		}
	}
	s := New(tbl)
	v, err := s.Select(context.Background(), LatencyThreshold{Configured: true, Threshold: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "https://b", v.URL, "falls back to the lowest-latency candidate when none clears the threshold")
}

func TestLatencyFilterKeepsOnlyUnderThresholdWhenSomeQualify(t *testing.T) {
	tbl := endpoint.NewTable(endpoint.TableSpec{
		Primary: []endpoint.Spec{{URL: "https://a"}, {URL: "https://b"}},
	})
	for _, rec := range tbl.Records() {
		switch rec.URL() {
		case "https://a":
			rec.Apply(endpoint.Classification{Healthy: true, Latency: 10 * time.Millisecond})
		case "https://b":
			rec.Apply(endpoint.Classification{Healthy: true, Latency: 200 * time.Millisecond})
		}
	}
	s := New(tbl)
	for i := 0; i < 3; i++ {
		v, err := s.Select(context.Background(), LatencyThreshold{Configured: true, Threshold: 50 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, "https://a", v.URL)
	}
}
