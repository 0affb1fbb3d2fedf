package procstate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarDisabled_StartsFalseAndIsStickyOnceTripped(t *testing.T) {
	p := New()
	assert.False(t, p.SidecarDisabled())
	p.TripSidecarDisabled()
	assert.True(t, p.SidecarDisabled())
	p.TripSidecarDisabled()
	assert.True(t, p.SidecarDisabled())
}

func TestGetOrCreate_BuildsOnceForSameKey(t *testing.T) {
	p := New()
	var builds int32

	build := func() (any, error) {
		atomic.AddInt32(&builds, 1)
		return "singleton", nil
	}

	v1, err := p.GetOrCreate("/dir/a", build)
	require.NoError(t, err)
	v2, err := p.GetOrCreate("/dir/a", build)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), builds)
}

func TestGetOrCreate_DifferentKeysBuildIndependently(t *testing.T) {
	p := New()
	a, err := p.GetOrCreate("/dir/a", func() (any, error) { return "a", nil })
	require.NoError(t, err)
	b, err := p.GetOrCreate("/dir/b", func() (any, error) { return "b", nil })
	require.NoError(t, err)

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

func TestGetOrCreate_ConcurrentCallsForSameKeyBuildExactlyOnce(t *testing.T) {
	p := New()
	var builds int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.GetOrCreate("/dir/shared", func() (any, error) {
				atomic.AddInt32(&builds, 1)
				return "v", nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds)
}
