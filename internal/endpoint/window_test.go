package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowPruneDropsOldEntries(t *testing.T) {
	var w Window
	base := time.Now()
	w.Append(base.Add(-90 * time.Second))
	w.Append(base.Add(-30 * time.Second))
	w.Append(base)

	w.Prune(base.Add(-60 * time.Second))

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.CountSince(base.Add(-60*time.Second)))
}

func TestWindowCountSinceRespectsCutoff(t *testing.T) {
	var w Window
	base := time.Now()
	w.Append(base.Add(-2 * time.Second))
	w.Append(base.Add(-500 * time.Millisecond))
	w.Append(base)

	assert.Equal(t, 2, w.CountSince(base.Add(-1*time.Second)))
}

func TestWindowCompactsAfterEnoughPruning(t *testing.T) {
	var w Window
	base := time.Now()
	for i := 0; i < 10; i++ {
		w.Append(base.Add(time.Duration(i) * time.Second))
	}
	w.Prune(base.Add(6 * time.Second))

	assert.Equal(t, 0, w.start, "backing slice should have compacted away the dead prefix")
	assert.Equal(t, 4, w.Len())
}
