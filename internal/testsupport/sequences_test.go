package testsupport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSequence_Increments(t *testing.T) {
	seq1 := NextSequence()
	seq2 := NextSequence()
	assert.Equal(t, seq1+1, seq2)
}

func TestUniqueNames(t *testing.T) {
	assert.NotEqual(t, UniqueName("pair"), UniqueName("pair"))
	assert.Contains(t, UniqueName("pair"), "pair_")
	assert.Contains(t, UniqueAssetID("AAPL"), "AAPL.")
}

func TestConcurrentSequenceGeneration(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 20

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seq := NextSequence()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
