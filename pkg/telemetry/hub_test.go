package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndRecentRingBuffer(t *testing.T) {
	h := New(3, 10)
	for i := 0; i < 5; i++ {
		h.Publish("scheduler", map[string]any{"n": i})
	}
	recent := h.Recent("scheduler")
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Data["n"])
	assert.Equal(t, 4, recent[2].Data["n"])
	assert.EqualValues(t, 5, h.Count("scheduler"))
}

func TestHub_RecentOnUnknownCategoryIsNil(t *testing.T) {
	h := New(10, 10)
	assert.Nil(t, h.Recent("nope"))
}

func TestHub_PercentilesEmptyWindowIsZero(t *testing.T) {
	h := New(10, 10)
	p := h.Percentiles("bridge")
	assert.Equal(t, Percentiles{}, p)
}

func TestHub_PercentilesSingletonWindow(t *testing.T) {
	h := New(10, 10)
	h.ObserveLatency("bridge", 2*time.Second)
	p := h.Percentiles("bridge")
	assert.Equal(t, 2.0, p.P50)
	assert.Equal(t, 2.0, p.P95)
	assert.Equal(t, 2.0, p.P99)
}

func TestHub_PercentilesFollowFormula(t *testing.T) {
	h := New(10, 100)
	for i := 1; i <= 10; i++ {
		h.ObserveLatency("bridge", time.Duration(i)*time.Second)
	}
	p := h.Percentiles("bridge")
	// p_k = w[ceil(n*k/100)-1], n=10: p50 -> ceil(5)-1=4 -> w[4]=5
	assert.Equal(t, 5.0, p.P50)
	// p95 -> ceil(9.5)-1=9 -> w[9]=10
	assert.Equal(t, 10.0, p.P95)
	assert.Equal(t, 10.0, p.P99)
}

func TestHub_SubscribeCategoryReceivesOnlyThatCategory(t *testing.T) {
	h := New(10, 10)
	sub := h.Subscribe("scheduler")
	defer sub.Close()

	h.Publish("bridge", nil)
	h.Publish("scheduler", map[string]any{"event": "queued"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "scheduler", ev.Category)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SubscribeAllReceivesEveryCategory(t *testing.T) {
	h := New(10, 10)
	sub := h.SubscribeAll()
	defer sub.Close()

	h.Publish("bridge", nil)
	h.Publish("scheduler", nil)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			seen[ev.Category] = true
		case <-time.After(time.Second):
			t.Fatal("expected an event")
		}
	}
	assert.True(t, seen["bridge"])
	assert.True(t, seen["scheduler"])
}

func TestHub_PublishDropsOnFullSubscriberBufferWithoutBlocking(t *testing.T) {
	h := New(10, 10)
	h.subscriberBuf = 1
	sub := h.Subscribe("scheduler")
	defer sub.Close()

	h.Publish("scheduler", map[string]any{"n": 1})
	h.Publish("scheduler", map[string]any{"n": 2}) // buffer full, should drop not block

	assert.EqualValues(t, 1, sub.Dropped())
}

func TestHub_CloseDetachesSubscriber(t *testing.T) {
	h := New(10, 10)
	sub := h.Subscribe("scheduler")
	sub.Close()

	// Publishing after Close must not panic or block.
	h.Publish("scheduler", nil)

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
