package lane

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/echo-server/workpool"
)

func TestLane(t *testing.T) {
	t.Run("posted functions run in order", func(t *testing.T) {
		pool := workpool.New(4)
		defer pool.Close()
		l := New(pool)

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			require.NoError(t, l.Post(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				wg.Done()
			}))
		}

		wg.Wait()
		require.Len(t, order, 200)
		for i, v := range order {
			assert.Equal(t, i, v)
		}
	})

	t.Run("functions never run concurrently", func(t *testing.T) {
		pool := workpool.New(8)
		defer pool.Close()
		l := New(pool)

		var inside atomic.Int32
		var overlapped atomic.Bool
		var wg sync.WaitGroup

		post := func() {
			wg.Add(1)
			require.NoError(t, l.Post(func() {
				if inside.Add(1) > 1 {
					overlapped.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				wg.Done()
			}))
		}

		var posters sync.WaitGroup
		for g := 0; g < 8; g++ {
			posters.Add(1)
			go func() {
				defer posters.Done()
				for i := 0; i < 10; i++ {
					post()
				}
			}()
		}
		posters.Wait()
		wg.Wait()

		assert.False(t, overlapped.Load())
	})

	t.Run("a function can post to its own lane", func(t *testing.T) {
		pool := workpool.New(2)
		defer pool.Close()
		l := New(pool)

		done := make(chan struct{})
		require.NoError(t, l.Post(func() {
			require.NoError(t, l.Post(func() { close(done) }))
		}))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("nested post did not run")
		}
	})

	t.Run("independent lanes do not block each other", func(t *testing.T) {
		pool := workpool.New(2)
		defer pool.Close()
		a := New(pool)
		b := New(pool)

		release := make(chan struct{})
		require.NoError(t, a.Post(func() { <-release }))

		done := make(chan struct{})
		require.NoError(t, b.Post(func() { close(done) }))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("second lane was blocked by the first")
		}
		close(release)
	})

	t.Run("post after pool close is rejected", func(t *testing.T) {
		pool := workpool.New(1)
		l := New(pool)
		pool.Close()

		err := l.Post(func() {})
		assert.ErrorIs(t, err, workpool.ErrClosed)
	})
}
