package status

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_StartsOnFirstIncrement(t *testing.T) {
	c := NewCounter("Files scanned")

	_, started := c.Start()
	assert.False(t, started)
	assert.Zero(t, c.Rate())

	c.Increment()

	_, started = c.Start()
	assert.True(t, started)
	assert.Equal(t, int64(1), c.Value())
}

func TestCounter_FreezePinsValue(t *testing.T) {
	c := NewCounter("Nodes imported")
	c.Add(5)
	c.Freeze()

	end, ok := c.End()
	require.True(t, ok)

	c.Add(10)
	c.Freeze()

	assert.Equal(t, int64(5), c.Value())
	again, _ := c.End()
	assert.Equal(t, end, again)
	assert.True(t, c.Frozen())
}

func TestCounter_ConcurrentIncrementsSum(t *testing.T) {
	c := NewCounter("Bytes imported")

	const workers = 16
	var wg sync.WaitGroup
	local := make([]int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 1000+idx; j++ {
				c.Add(int64(idx + 1))
				local[idx] += int64(idx + 1)
			}
		}(i)
	}
	wg.Wait()

	var want int64
	for _, v := range local {
		want += v
	}
	assert.Equal(t, want, c.Value())
}

func TestCounter_ConstantAfterFreezeUnderContention(t *testing.T) {
	c := NewCounter("Versions imported")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Increment()
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	c.Freeze()
	frozen := c.Value()
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, frozen, c.Value())
}

func TestCounterSet_GetIsStable(t *testing.T) {
	var set CounterSet

	var wg sync.WaitGroup
	got := make([]*Counter, 32)
	for i := range got {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			got[idx] = set.Get("Unreadable entries")
		}(i)
	}
	wg.Wait()

	for _, c := range got {
		assert.Same(t, got[0], c)
	}
	assert.Equal(t, []string{"Unreadable entries"}, set.Names())
}
