package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableOrdersPrimaryBeforeSecondary(t *testing.T) {
	tbl := NewTable(TableSpec{
		Primary:   []Spec{{URL: "https://p1"}, {URL: "https://p2"}},
		Secondary: []Spec{{URL: "https://s1"}},
	})

	all := tbl.SnapshotAll()
	require.Len(t, all, 3)
	assert.Equal(t, "https://p1", all[0].URL)
	assert.Equal(t, "https://p2", all[1].URL)
	assert.Equal(t, "https://s1", all[2].URL)
	assert.Equal(t, Secondary, all[2].Tier)
}

func TestRebuildCarriesOverCountersWhenURLSetUnchanged(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1", Weight: 1}}})
	now := time.Now()
	tbl.RecordCall("https://p1", now)
	tbl.RecordCall("https://p1", now)

	tbl.Rebuild(TableSpec{Primary: []Spec{{URL: "https://p1", Weight: 5}}})

	all := tbl.SnapshotAll()
	require.Len(t, all, 1)
	assert.Equal(t, uint64(2), all[0].CallCount)
	assert.Equal(t, 5, all[0].Weight)
}

func TestRebuildDropsRecordsOutsideNewURLSet(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1"}, {URL: "https://p2"}}})
	tbl.Rebuild(TableSpec{Primary: []Spec{{URL: "https://p1"}}})

	all := tbl.SnapshotAll()
	require.Len(t, all, 1)
	assert.Equal(t, "https://p1", all[0].URL)
}

func TestUpdateWeightsOnlyTouchesWeightAndMaxTPS(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1", Weight: 1, MaxTPS: 10}}})
	now := time.Now()
	tbl.RecordCall("https://p1", now)

	tbl.UpdateWeights(TableSpec{Primary: []Spec{{URL: "https://p1", Weight: 3, MaxTPS: 20}}})

	view := tbl.SnapshotAll()[0]
	assert.Equal(t, 3, view.Weight)
	assert.Equal(t, 20, view.MaxTPS)
	assert.Equal(t, uint64(1), view.CallCount)
}

func TestWeightDefaultsToOne(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1"}}})
	assert.Equal(t, 1, tbl.SnapshotAll()[0].Weight)
}

func TestNewRecordStartsUnhealthyWithInfiniteSentinels(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1"}}})
	view := tbl.SnapshotAll()[0]
	assert.False(t, view.Healthy)
	assert.Equal(t, InfiniteBehind, view.Behind)
	assert.Equal(t, InfiniteLatency, view.Latency)
}

func TestSnapshotHealthyFiltersAndSortsByBehindThenLatency(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://a"}, {URL: "https://b"}, {URL: "https://c"}}})
	for _, rec := range tbl.Records() {
		switch rec.URL() {
		case "https://a":
			rec.Apply(Classification{Healthy: true, Behind: 2, Latency: 50 * time.Millisecond})
		case "https://b":
			rec.Apply(Classification{Healthy: true, Behind: 1, Latency: 200 * time.Millisecond})
		case "https://c":
			rec.Apply(Classification{Healthy: false, Behind: InfiniteBehind, Latency: InfiniteLatency})
		}
	}

	healthy := tbl.SnapshotHealthy()
	require.Len(t, healthy, 2)
	assert.Equal(t, "https://b", healthy[0].URL)
	assert.Equal(t, "https://a", healthy[1].URL)
}

func TestRateCountsSplitsSecondAndMinuteWindows(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1"}}})
	now := time.Now()
	tbl.RecordCall("https://p1", now.Add(-30*time.Second))
	tbl.RecordCall("https://p1", now.Add(-500*time.Millisecond))
	tbl.RecordCall("https://p1", now)

	tps, tpm, ok := tbl.RateCounts("https://p1", now)
	require.True(t, ok)
	assert.Equal(t, 2, tps)
	assert.Equal(t, 3, tpm)
}

func TestRateInfoUnknownURL(t *testing.T) {
	tbl := NewTable(TableSpec{})
	_, ok := tbl.RateInfo("https://nope", time.Now())
	assert.False(t, ok)
}

func TestRecordCallIsNoopForUnknownURL(t *testing.T) {
	tbl := NewTable(TableSpec{Primary: []Spec{{URL: "https://p1"}}})
	tbl.RecordCall("https://unknown", time.Now())
	assert.Equal(t, uint64(0), tbl.SnapshotAll()[0].CallCount)
}
