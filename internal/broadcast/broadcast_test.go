package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/wsproto"
)

type recordingSub struct {
	received []interface{}
}

func (r *recordingSub) Deliver(frame interface{}) { r.received = append(r.received, frame) }

func TestBusPublishExcludesSender(t *testing.T) {
	bus := NewBus()
	a, b := &recordingSub{}, &recordingSub{}
	bus.Subscribe("a", a)
	bus.Subscribe("b", b)

	bus.Publish("a", "hello")

	assert.Empty(t, a.received)
	require.Len(t, b.received, 1)
	assert.Equal(t, "hello", b.received[0])
}

func TestBusPublishNoExclusion(t *testing.T) {
	bus := NewBus()
	a, b := &recordingSub{}, &recordingSub{}
	bus.Subscribe("a", a)
	bus.Subscribe("b", b)

	bus.Publish("", "hi")

	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 1)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	a := &recordingSub{}
	bus.Subscribe("a", a)
	bus.Unsubscribe("a")
	assert.Equal(t, 0, bus.Count())

	bus.Publish("", "x")
	assert.Empty(t, a.received)
}

func TestReplayBufferExcludesSystemFrames(t *testing.T) {
	buf := NewReplayBuffer(10)
	buf.Add(&wsproto.Frame{Channel: wsproto.SystemChannel, Action: "identity"})
	assert.Empty(t, buf.Snapshot())
}

func TestReplayBufferFIFOOrder(t *testing.T) {
	buf := NewReplayBuffer(3)
	for i := 0; i < 3; i++ {
		buf.Add(&wsproto.Frame{Channel: "dom", Action: string(rune('a' + i))})
	}
	snap := buf.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].Action)
	assert.Equal(t, "c", snap[2].Action)
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	buf := NewReplayBuffer(2)
	buf.Add(&wsproto.Frame{Channel: "dom", Action: "a"})
	buf.Add(&wsproto.Frame{Channel: "dom", Action: "b"})
	buf.Add(&wsproto.Frame{Channel: "dom", Action: "c"})

	snap := buf.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Action)
	assert.Equal(t, "c", snap[1].Action)
}
