package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sentra-id/sentra/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []*Event
}

func (c *captureSink) Deliver(_ context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerDelivers(t *testing.T) {
	m := NewManager(logger.NewNop())
	sink := &captureSink{}
	require.NoError(t, m.RegisterSink("capture", sink))

	m.Emit(&Event{Type: EventTokenIssued, TenantID: "t1", SessionID: "s1"})

	waitFor(t, func() bool { return len(sink.all()) == 1 })

	got := sink.all()[0]
	assert.Equal(t, EventTokenIssued, got.Type)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, m.Close())
}

func TestManagerCloneIsolation(t *testing.T) {
	m := NewManager(logger.NewNop())
	sink := &captureSink{}
	require.NoError(t, m.RegisterSink("capture", sink))

	meta := map[string]string{"reason": "logout"}
	m.Emit(&Event{Type: EventSessionRevoked, Metadata: meta})
	meta["reason"] = "mutated"

	waitFor(t, func() bool { return len(sink.all()) == 1 })
	assert.Equal(t, "logout", sink.all()[0].Metadata["reason"])

	require.NoError(t, m.Close())
}

func TestManagerCloseIdempotent(t *testing.T) {
	m := NewManager(logger.NewNop())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// Emit after close is a no-op, not a panic.
	m.Emit(&Event{Type: EventTokenIssued})
}

func TestManagerEmitDuringClose(t *testing.T) {
	m := NewManager(logger.NewNop())
	require.NoError(t, m.RegisterSink("capture", &captureSink{}))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				m.Emit(&Event{Type: EventTokenIssued, SessionID: "s1"})
			}
		}()
	}

	close(start)
	require.NoError(t, m.Close())
	wg.Wait()

	// Emitters that lost the race were dropped silently, never panicked.
	m.Emit(&Event{Type: EventTokenIssued})
}

func TestDuplicateSinkRejected(t *testing.T) {
	m := NewManager(logger.NewNop())
	defer m.Close()

	require.NoError(t, m.RegisterSink("a", &captureSink{}))
	require.Error(t, m.RegisterSink("a", &captureSink{}))
}

func TestWebhookNotifierFiltersEvents(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	defer n.Close()

	ctx := context.Background()
	require.NoError(t, n.Deliver(ctx, &Event{Type: EventTokenIssued}))
	require.NoError(t, n.Deliver(ctx, &Event{Type: EventReplayDetected, SessionID: "s1"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventReplayDetected, received[0].Type)
	assert.Equal(t, "s1", received[0].SessionID)
}
