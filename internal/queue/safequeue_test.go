package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string) Item {
	return Item{Payload: map[string]any{"id": id}}
}

func TestAdd_RejectsWhenFull(t *testing.T) {
	q := New(2)
	assert.True(t, q.Add(item("a")))
	assert.True(t, q.Add(item("b")))
	assert.False(t, q.Add(item("c")), "ring at capacity must reject without blocking")
}

func TestGet_ReturnsInFIFOOrder(t *testing.T) {
	q := New(4)
	q.Add(item("a"))
	q.Add(item("b"))

	got, ok := q.Get(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "a", got.Payload["id"])

	got, ok = q.Get(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "b", got.Payload["id"])
}

func TestGet_TimesOutOnEmptyQueue(t *testing.T) {
	q := New(1)
	_, ok := q.Get(5 * time.Millisecond)
	assert.False(t, ok)
}

func TestGetBatch_CapsAtAvailableItems(t *testing.T) {
	q := New(4)
	q.Add(item("a"))
	q.Add(item("b"))

	batch := q.GetBatch(10)
	assert.Len(t, batch, 2)
}

func TestWritebackBatch_FillsRingThenOverflows(t *testing.T) {
	q := New(2)
	written := q.WritebackBatch([]Item{item("a"), item("b"), item("c")})
	assert.Equal(t, 2, written, "only ring capacity worth of items should land immediately")
	assert.InDelta(t, 1.5, q.FillPercentage(), 0.001, "overflowed item counts toward fill percentage via writeback")
}

func TestWritebackBatch_DrainsOnNextGet(t *testing.T) {
	q := New(1)
	q.WritebackBatch([]Item{item("a"), item("b")})

	first, ok := q.Get(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "a", first.Payload["id"])

	second, ok := q.Get(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "b", second.Payload["id"])
}

func TestEmpty_ReflectsRingAndWriteback(t *testing.T) {
	q := New(1)
	assert.True(t, q.Empty())
	q.WritebackBatch([]Item{item("a"), item("b")})
	assert.False(t, q.Empty())
}

func TestJoin_ReturnsAfterMatchingTaskDone(t *testing.T) {
	q := New(4)
	q.Add(item("a"))
	q.Add(item("b"))

	done := make(chan struct{})
	go func() {
		q.Join()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Join returned before all outstanding items were marked done")
	case <-time.After(10 * time.Millisecond):
	}

	q.TaskDone()
	q.TaskDone()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Join did not return once outstanding reached zero")
	}
}

func TestWritebackBatch_PreExistingOverflowIsNotDuplicatedOnReinjectionFailure(t *testing.T) {
	q := New(1)

	written := q.WritebackBatch([]Item{item("a"), item("b"), item("c")})
	require.Equal(t, 1, written, "only the ring's one slot should be filled immediately")

	// The ring is still full (holding "a"); this call re-attempts draining
	// the pre-existing writeback list ["b", "c"] and must fail on the very
	// first item without re-appending the remainder more than once.
	written = q.WritebackBatch(nil)
	assert.Equal(t, 0, written)

	var ids []string
	for i := 0; i < 4; i++ {
		got, ok := q.Get(10 * time.Millisecond)
		if !ok {
			break
		}
		ids = append(ids, got.Payload["id"].(string))
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids, "writeback reinjection must never duplicate an item")
}

func TestFillPercentage_ZeroCapacityIsSafe(t *testing.T) {
	q := New(0)
	assert.Equal(t, float64(0), q.FillPercentage())
}
