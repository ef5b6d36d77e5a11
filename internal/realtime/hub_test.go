package realtime_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/realtime"
)

type recordingObserver struct {
	id      string
	mu      sync.Mutex
	events  []string
	frames  [][]byte
	failErr error
	panics  bool
	closed  bool
}

func (o *recordingObserver) ID() string { return o.id }

func (o *recordingObserver) Send(event string, payload []byte) error {
	if o.panics {
		panic("boom")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failErr != nil {
		return o.failErr
	}
	o.events = append(o.events, event)
	o.frames = append(o.frames, payload)
	return nil
}

func (o *recordingObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

func (o *recordingObserver) snapshot() ([]string, [][]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...), append([][]byte(nil), o.frames...), o.closed
}

func TestHub_PublishEnvelope(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	a := &recordingObserver{id: "a"}
	b := &recordingObserver{id: "b"}
	require.NoError(t, hub.Register(a))
	require.NoError(t, hub.Register(b))
	assert.Equal(t, 2, hub.Count())

	delivered := hub.Publish("message_incoming", map[string]any{"id": 1})
	assert.Equal(t, 2, delivered)

	events, frames, _ := a.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"message_incoming"}, events)
	assert.JSONEq(t, `{"event":"message_incoming","data":{"id":1}}`, string(frames[0]))

	_, framesB, _ := b.snapshot()
	assert.Equal(t, frames, framesB, "both observers receive the same bytes")
}

func TestHub_FailingObserverIsRemoved(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	good := &recordingObserver{id: "good"}
	bad := &recordingObserver{id: "bad", failErr: errors.New("broken pipe")}
	explosive := &recordingObserver{id: "explosive", panics: true}
	require.NoError(t, hub.Register(good))
	require.NoError(t, hub.Register(bad))
	require.NoError(t, hub.Register(explosive))

	delivered := hub.Publish("message_outgoing", "x")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, hub.Count())

	_, _, badClosed := bad.snapshot()
	assert.True(t, badClosed)
	_, _, explosiveClosed := explosive.snapshot()
	assert.True(t, explosiveClosed)

	hub.Publish("message_outgoing", "y")
	events, _, closed := good.snapshot()
	assert.Len(t, events, 2)
	assert.False(t, closed)
}

func TestHub_UnmarshalableDataIsDropped(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	o := &recordingObserver{id: "o"}
	require.NoError(t, hub.Register(o))

	assert.Zero(t, hub.Publish("message_incoming", make(chan int)))
	events, _, _ := o.snapshot()
	assert.Empty(t, events)
	assert.Equal(t, 1, hub.Count())
}

func TestHub_UnregisterOnlyRemovesSameObserver(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	first := &recordingObserver{id: "same"}
	second := &recordingObserver{id: "same"}

	require.NoError(t, hub.Register(first))
	require.NoError(t, hub.Register(second))
	hub.Unregister(first)
	assert.Equal(t, 1, hub.Count())

	hub.Unregister(second)
	assert.Zero(t, hub.Count())
}

func TestHub_Close(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	o := &recordingObserver{id: "o"}
	require.NoError(t, hub.Register(o))

	hub.Close()
	_, _, closed := o.snapshot()
	assert.True(t, closed)
	assert.Zero(t, hub.Count())
	assert.ErrorIs(t, hub.Register(&recordingObserver{id: "late"}), realtime.ErrHubClosed)
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			o := &recordingObserver{id: fmt.Sprintf("o-%d", i)}
			assert.NoError(t, hub.Register(o))
			if i%2 == 0 {
				hub.Unregister(o)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			hub.Publish("message_incoming", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, hub.Count())

	var envelope struct {
		Event string `json:"event"`
		Data  int    `json:"data"`
	}
	o := &recordingObserver{id: "late"}
	require.NoError(t, hub.Register(o))
	hub.Publish("message_deleted", 7)
	_, frames, _ := o.snapshot()
	require.Len(t, frames, 1)
	require.NoError(t, json.Unmarshal(frames[0], &envelope))
	assert.Equal(t, "message_deleted", envelope.Event)
	assert.Equal(t, 7, envelope.Data)
}
