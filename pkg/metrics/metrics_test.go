package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Inc("retry.attempts", 1)
	r.Inc("retry.attempts", 2)
	r.Set("retry.failures", 5)

	assert.Equal(t, int64(3), r.Get("retry.attempts"))
	assert.Equal(t, int64(5), r.Get("retry.failures"))
	assert.Zero(t, r.Get("never.touched"))

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap["retry.attempts"])

	r.Reset()
	assert.Zero(t, r.Get("retry.attempts"))
}

func TestRegistryConcurrentInc(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Inc("units.processed", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), r.Get("units.processed"))
}
