package hub

import (
	"context"
	"testing"
	"time"

	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one update with a timeout so tests never hang
func recvUpdate(t *testing.T, ch <-chan Update, within time.Duration) Update {
	t.Helper()
	select {
	case up, ok := <-ch:
		require.True(t, ok, "viewer outbox closed unexpectedly")
		return up
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

func recvView(t *testing.T, h *Hub) View {
	t.Helper()
	reply := make(chan View, 1)
	h.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func TestHub_JoinGetsCurrentOverlay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	h.Render(pub.Overlay{Kind: pub.KindLive, Segments: []pub.Segment{{Contour: "jaw"}}})

	out := make(chan Update, 2)
	h.Inbox() <- Join{ClientID: "v1", Outbox: out}

	first := recvUpdate(t, out, 100*time.Millisecond)
	assert.Equal(t, 1, first.Version)
	require.NotNil(t, first.Overlay)
	assert.Equal(t, pub.KindLive, first.Overlay.Kind)
	assert.Len(t, first.Overlay.Segments, 1)
}

func TestHub_BroadcastsOverlaysAndAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	out := make(chan Update, 4)
	h.Inbox() <- Join{ClientID: "v1", Outbox: out}
	recvUpdate(t, out, 100*time.Millisecond)

	h.Alert("camera unavailable")
	h.Render(pub.Overlay{})

	alert := recvUpdate(t, out, 100*time.Millisecond)
	assert.Equal(t, "camera unavailable", alert.Alert)
	assert.Nil(t, alert.Overlay)
	assert.Equal(t, 1, alert.Version)

	cleared := recvUpdate(t, out, 100*time.Millisecond)
	require.NotNil(t, cleared.Overlay)
	assert.Empty(t, cleared.Overlay.Segments)
	assert.Equal(t, 2, cleared.Version)
}

func TestHub_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	out := make(chan Update, 1)
	h.Inbox() <- Join{ClientID: "v1", Outbox: out}
	h.Render(pub.Overlay{})

	assert.Equal(t, 0, recvView(t, h).NumClients)

	recvUpdate(t, out, 100*time.Millisecond)
	_, ok := <-out
	assert.False(t, ok, "outbox is closed after the drop")
}

func TestHub_LeaveAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	a := make(chan Update, 4)
	b := make(chan Update, 4)
	h.Inbox() <- Join{ClientID: "a", Outbox: a}
	h.Inbox() <- Join{ClientID: "b", Outbox: b}
	h.Inbox() <- Leave{ClientID: "a"}
	assert.Equal(t, 1, recvView(t, h).NumClients)

	h.Inbox() <- ShutdownHub{}
	recvUpdate(t, b, 100*time.Millisecond)
	select {
	case _, ok := <-b:
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("remaining viewer was not closed on shutdown")
	}
}
