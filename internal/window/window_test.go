package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAccumulates(t *testing.T) {
	tr := NewTracker(time.Hour)

	res1, err := tr.Reserve("owner-a", 3.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res1.PriorTotal, 1e-9)

	res2, err := tr.Reserve("owner-a", 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res2.PriorTotal, 1e-9)

	assert.InDelta(t, 5.0, tr.Total("owner-a"), 1e-9)
}

func TestOwnersAreIsolated(t *testing.T) {
	tr := NewTracker(time.Hour)
	_, err := tr.Reserve("owner-a", 3.0)
	require.NoError(t, err)

	res, err := tr.Reserve("owner-b", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.PriorTotal, 1e-9)
}

func TestReleaseRemovesReservation(t *testing.T) {
	tr := NewTracker(time.Hour)
	res, err := tr.Reserve("owner-a", 4.0)
	require.NoError(t, err)

	tr.Release(res)
	assert.InDelta(t, 0.0, tr.Total("owner-a"), 1e-9)

	// Double release is a no-op.
	tr.Release(res)
	tr.Release(nil)
	assert.InDelta(t, 0.0, tr.Total("owner-a"), 1e-9)
}

func TestExpiredEntriesArePruned(t *testing.T) {
	tr := NewTracker(time.Hour)
	current := time.Now()
	tr.now = func() time.Time { return current }

	_, err := tr.Reserve("owner-a", 4.0)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	res, err := tr.Reserve("owner-a", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.PriorTotal, 1e-9)
	assert.InDelta(t, 1.0, tr.Total("owner-a"), 1e-9)
}

func TestConcurrentReservesNeverShareAPriorTotal(t *testing.T) {
	tr := NewTracker(time.Hour)
	const n = 50

	var wg sync.WaitGroup
	priors := make(chan float64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Reserve("owner-a", 1.0)
			if err == nil {
				priors <- res.PriorTotal
			}
		}()
	}
	wg.Wait()
	close(priors)

	// Every successful reservation observed a distinct prior total:
	// the window is updated atomically per run.
	seen := map[float64]bool{}
	count := 0
	for p := range priors {
		assert.False(t, seen[p], "duplicate prior total %v", p)
		seen[p] = true
		count++
	}
	assert.InDelta(t, float64(count), tr.Total("owner-a"), 1e-9)
}
