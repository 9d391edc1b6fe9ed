package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDrainOrder(t *testing.T) {
	now := time.Now()

	fifo := NewBuffer[int](FIFO)
	lifo := NewBuffer[int](LIFO)
	for i := 1; i <= 5; i++ {
		fifo.Append(i, now)
		lifo.Append(i, now)
	}

	assert.Equal(t, []int{1, 2, 3}, fifo.Drain(3))
	assert.Equal(t, []int{4, 5}, fifo.Drain(3))
	assert.Nil(t, fifo.Drain(3))

	assert.Equal(t, []int{5, 4, 3}, lifo.Drain(3))
	assert.Equal(t, []int{2, 1}, lifo.Drain(0))
	assert.Equal(t, 0, lifo.Len())
}

func TestBufferRequeueComesBackFirst(t *testing.T) {
	now := time.Now()
	for _, order := range []Order{FIFO, LIFO} {
		t.Run(order.String(), func(t *testing.T) {
			buf := NewBuffer[int](order)
			for i := 1; i <= 4; i++ {
				buf.Append(i, now)
			}
			drained := buf.Drain(2)
			buf.Append(9, now)
			buf.Requeue(drained)

			assert.Equal(t, drained, buf.Drain(2))
			assert.Equal(t, 3, buf.Len())
		})
	}
}

func TestBufferShouldFlush(t *testing.T) {
	start := time.Now()
	buf := NewBuffer[string](FIFO)

	ok, _ := buf.ShouldFlush(start.Add(time.Hour), 2, time.Second)
	assert.False(t, ok, "empty buffer never flushes")

	buf.Append("a", start)
	ok, _ = buf.ShouldFlush(start.Add(500*time.Millisecond), 2, time.Second)
	assert.False(t, ok)

	ok, trigger := buf.ShouldFlush(start.Add(time.Second), 2, time.Second)
	require.True(t, ok)
	assert.Equal(t, TriggerStale, trigger)

	buf.Append("b", start.Add(time.Second))
	ok, trigger = buf.ShouldFlush(start.Add(time.Second), 2, time.Second)
	require.True(t, ok)
	assert.Equal(t, TriggerSize, trigger)
	assert.Equal(t, start.Add(time.Second), buf.Watermark())
}

func TestParseOrder(t *testing.T) {
	assert.Equal(t, LIFO, ParseOrder("LIFO"))
	assert.Equal(t, FIFO, ParseOrder("fifo"))
	assert.Equal(t, FIFO, ParseOrder(""))
}
