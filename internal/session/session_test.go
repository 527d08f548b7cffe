package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/mode"
	"github.com/DoyleJ11/landmark-client/internal/playback"
	"github.com/DoyleJ11/landmark-client/internal/transport"
	"github.com/DoyleJ11/landmark-client/internal/types"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	captureEvery = 200 * time.Millisecond
	playEvery    = 33 * time.Millisecond
)

// callLog records side effects from every fake in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) count(s string) int {
	n := 0
	for _, c := range l.all() {
		if c == s {
			n++
		}
	}
	return n
}

func (l *callLog) index(t *testing.T, s string) int {
	t.Helper()
	i := slices.Index(l.all(), s)
	require.NotEqual(t, -1, i, "missing %q in %v", s, l.all())
	return i
}

type fakeConn struct {
	log    *callLog
	state  atomic.Value
	closes atomic.Int32
}

func newFakeConn(log *callLog) *fakeConn {
	c := &fakeConn{log: log}
	c.state.Store(pub.ConnOpen)
	return c
}

func (c *fakeConn) State() pub.ConnectionState { return c.state.Load().(pub.ConnectionState) }

func (c *fakeConn) Send(msg any) bool {
	if c.State() != pub.ConnOpen {
		return false
	}
	switch m := msg.(type) {
	case types.FrameMessage:
		c.log.add(fmt.Sprintf("send:frame:single=%t", m.SingleFrame))
	case types.ToggleMessage:
		c.log.add(fmt.Sprintf("send:toggle:%t", m.Value))
	case types.PlayReferenceMessage:
		c.log.add(fmt.Sprintf("send:play_reference:%t", m.Value))
	default:
		c.log.add(fmt.Sprintf("send:%T", msg))
	}
	return true
}

func (c *fakeConn) Close() {
	c.closes.Add(1)
	c.state.Store(pub.ConnClosed)
	c.log.add("conn:close")
}

type fakeCamera struct {
	log  *callLog
	err  error
	hold atomic.Bool // the next call blocks until its capture is cancelled
}

func (f *fakeCamera) TakeStillImage(ctx context.Context) ([]byte, error) {
	f.log.add("camera:take")
	if f.hold.CompareAndSwap(true, false) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg"), nil
}

type fakeAudio struct {
	log     *callLog
	unloads atomic.Int32
}

func (a *fakeAudio) Load(asset string) (playback.Handle, error) {
	a.log.add("audio:load")
	return "h1", nil
}

func (a *fakeAudio) Play(h playback.Handle, from time.Duration) error {
	a.log.add("audio:play")
	return nil
}

func (a *fakeAudio) Stop(h playback.Handle) error {
	a.log.add("audio:stop")
	return nil
}

func (a *fakeAudio) Unload(h playback.Handle) error {
	a.unloads.Add(1)
	a.log.add("audio:unload")
	return nil
}

// fakeTicker only fires when the test calls tick.
type fakeTicker struct {
	d     time.Duration
	c     chan time.Time
	stops atomic.Int32
	log   *callLog
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.stops.Add(1)
	f.log.add("ticker:stop:" + f.d.String())
}

func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatalf("tick on %s ticker was not consumed", f.d)
	}
}

type tickerFactory struct {
	log *callLog
	mu  sync.Mutex
	all []*fakeTicker
}

func (tf *tickerFactory) New(d time.Duration) Ticker {
	ft := &fakeTicker{d: d, c: make(chan time.Time), log: tf.log}
	tf.mu.Lock()
	tf.all = append(tf.all, ft)
	tf.mu.Unlock()
	tf.log.add("ticker:start:" + d.String())
	return ft
}

func (tf *tickerFactory) last(t *testing.T, d time.Duration) *fakeTicker {
	t.Helper()
	tf.mu.Lock()
	defer tf.mu.Unlock()
	for i := len(tf.all) - 1; i >= 0; i-- {
		if tf.all[i].d == d {
			return tf.all[i]
		}
	}
	t.Fatalf("no %s ticker was started", d)
	return nil
}

type fakeRenderer struct {
	mu       sync.Mutex
	alerts   []string
	overlays []pub.Overlay
}

func (r *fakeRenderer) Render(o pub.Overlay) {
	r.mu.Lock()
	r.overlays = append(r.overlays, o)
	r.mu.Unlock()
}

func (r *fakeRenderer) Alert(msg string) {
	r.mu.Lock()
	r.alerts = append(r.alerts, msg)
	r.mu.Unlock()
}

func (r *fakeRenderer) alertList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.alerts)
}

type harness struct {
	s      *Session
	log    *callLog
	conn   *fakeConn
	cam    *fakeCamera
	audio  *fakeAudio
	ticks  *tickerFactory
	render *fakeRenderer
	events chan transport.Event
}

func newHarness(t *testing.T, camErr error) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		log:    log,
		conn:   newFakeConn(log),
		cam:    &fakeCamera{log: log, err: camErr},
		audio:  &fakeAudio{log: log},
		ticks:  &tickerFactory{log: log},
		render: &fakeRenderer{},
		events: make(chan transport.Event, 16),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h.s = New(ctx, Options{
		Conn:             h.conn,
		Events:           h.events,
		Camera:           h.cam,
		Audio:            h.audio,
		AudioAsset:       "ref.mp3",
		CaptureInterval:  captureEvery,
		PlaybackInterval: playEvery,
		NewTicker:        h.ticks.New,
		Renderer:         h.render,
	})
	return h
}

func (h *harness) state(t *testing.T) View {
	t.Helper()
	reply := make(chan View, 1)
	h.s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for state")
		return View{}
	}
}

func (h *harness) waitMode(t *testing.T, want mode.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state(t).Mode == want },
		time.Second, 5*time.Millisecond, "mode never became %s", want)
}

func (h *harness) serverSays(raw string) {
	h.events <- transport.Message{Raw: []byte(raw)}
}

func (h *harness) dispose(t *testing.T, closeSocket bool) error {
	t.Helper()
	done := make(chan error, 1)
	h.s.Inbox() <- Dispose{CloseSocket: closeSocket, Done: done}
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispose")
		return nil
	}
}

func allLandmarks(n int) string {
	frames := make([]string, n)
	for i := range frames {
		frames[i] = fmt.Sprintf(`{"points":[[%d,0],[%d,10]]}`, i, i)
	}
	return `{"type":"all_landmarks","landmarks":[` + strings.Join(frames, ",") + `]}`
}

// startReference drives the session from off into reference playback with
// n frames loaded.
func (h *harness) startReference(t *testing.T, n int) {
	t.Helper()
	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.ReferenceRequested)
	h.serverSays(allLandmarks(n))
	h.waitMode(t, mode.Reference)
}

func TestSession_LiveToReference_SendsOneToggleOffBeforePlayback(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)
	v := h.state(t)
	assert.True(t, v.CaptureArmed)
	assert.Equal(t, 1, h.log.count("send:frame:single=true"))
	assert.Equal(t, 1, h.log.count("send:toggle:true"))

	h.startReference(t, 3)

	assert.Equal(t, 1, h.log.count("send:toggle:false"))
	assert.Equal(t, 1, h.log.count("send:play_reference:true"))
	toggleOff := h.log.index(t, "send:toggle:false")
	captureStop := h.log.index(t, "ticker:stop:"+captureEvery.String())
	audioPlay := h.log.index(t, "audio:play")
	assert.Less(t, toggleOff, audioPlay)
	assert.Less(t, captureStop, audioPlay)

	v = h.state(t)
	assert.False(t, v.CaptureArmed)
	assert.True(t, v.PlaybackArmed)
	assert.Equal(t, playback.StatePlaying, v.Playback)
}

func TestSession_ReferenceToLive_StopsPlaybackBeforeCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 5)

	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)

	playStop := h.log.index(t, "ticker:stop:"+playEvery.String())
	audioStop := h.log.index(t, "audio:stop")
	take := h.log.index(t, "camera:take")
	assert.Less(t, playStop, take)
	assert.Less(t, audioStop, take)

	v := h.state(t)
	assert.Equal(t, playback.StateStopped, v.Playback)
	assert.False(t, v.PlaybackArmed)
	assert.Zero(t, h.log.count("send:play_reference:false"), "switching modes does not stop the server side")
}

func TestSession_CaptureFailure_RevertsToOffWithAlert(t *testing.T) {
	h := newHarness(t, errors.New("shutter jammed"))

	h.s.Inbox() <- EnableLive{}
	require.Eventually(t, func() bool { return len(h.render.alertList()) == 1 }, time.Second, 5*time.Millisecond)

	v := h.state(t)
	assert.Equal(t, mode.Off, v.Mode)
	assert.False(t, v.CaptureInFlight)
	assert.Contains(t, v.Alerts[0], "shutter jammed")
	assert.Zero(t, h.log.count("send:frame:single=true"))
	assert.Zero(t, h.log.count("send:toggle:true"))
}

func TestSession_EnableLiveWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.state.Store(pub.ConnClosed)

	h.s.Inbox() <- EnableLive{}
	require.Eventually(t, func() bool { return len(h.render.alertList()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, mode.Off, h.state(t).Mode)
	assert.Contains(t, h.render.alertList()[0], "not connected")
	assert.Zero(t, h.log.count("camera:take"))
}

func TestSession_PlaybackCompletesAfterNTicks(t *testing.T) {
	const n = 3
	h := newHarness(t, nil)
	h.startReference(t, n)

	play := h.ticks.last(t, playEvery)
	for i := 0; i < n-1; i++ {
		play.tick(t)
		v := h.state(t)
		assert.Equal(t, mode.Reference, v.Mode)
		assert.Equal(t, i+1, v.Cursor)
	}
	play.tick(t)

	v := h.state(t)
	assert.Equal(t, mode.Off, v.Mode)
	assert.Equal(t, playback.StateCompleted, v.Playback)
	assert.Equal(t, n-1, v.Cursor)
	assert.False(t, v.PlaybackArmed)
	assert.Empty(t, v.Overlay.Segments)
	assert.EqualValues(t, 1, play.stops.Load())
	assert.EqualValues(t, 1, h.audio.unloads.Load())
}

func TestSession_UserStopBeforeEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 4)

	play := h.ticks.last(t, playEvery)
	play.tick(t)
	h.s.Inbox() <- StopReference{}

	v := h.state(t)
	assert.Equal(t, mode.Off, v.Mode)
	assert.Equal(t, playback.StateStopped, v.Playback)
	assert.Equal(t, 1, v.Cursor)
	assert.Equal(t, 1, h.log.count("send:play_reference:false"))
	assert.EqualValues(t, 1, play.stops.Load())
}

func TestSession_SecondPlaybackReusesFrames(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 2)
	h.s.Inbox() <- StopReference{}

	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.Reference)
	assert.Equal(t, 1, h.log.count("send:play_reference:true"))
	assert.Equal(t, 2, h.log.count("ticker:start:"+playEvery.String()))
}

func TestSession_DisposeOrderAndIdempotence(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 3)
	play := h.ticks.last(t, playEvery)

	require.NoError(t, h.dispose(t, true))
	require.NoError(t, h.dispose(t, true))

	stop := h.log.index(t, "ticker:stop:"+playEvery.String())
	audioStop := h.log.index(t, "audio:stop")
	unload := h.log.index(t, "audio:unload")
	toggleOff := h.log.index(t, "send:toggle:false")
	closeAt := h.log.index(t, "conn:close")
	assert.True(t, stop < audioStop && audioStop < unload && unload < toggleOff && toggleOff < closeAt,
		"unexpected order: %v", h.log.all())

	assert.EqualValues(t, 1, play.stops.Load())
	assert.EqualValues(t, 1, h.audio.unloads.Load())
	assert.Equal(t, 1, h.log.count("audio:stop"))
	assert.Equal(t, 1, h.log.count("send:toggle:false"), "socket is closed the second time")

	v := h.state(t)
	assert.Equal(t, mode.Off, v.Mode)
	assert.Equal(t, playback.StateIdle, v.Playback)
}

func TestSession_DisposeKeepsSocketUnlessAsked(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)

	require.NoError(t, h.dispose(t, false))
	assert.Zero(t, h.conn.closes.Load())
	assert.Equal(t, 1, h.log.count("send:toggle:false"))
	assert.False(t, h.state(t).CaptureArmed)
}

func TestSession_ServerErrorIsAlerted(t *testing.T) {
	h := newHarness(t, nil)

	h.serverSays(`not json`)
	h.serverSays(`{"type":"mystery"}`)
	h.serverSays(`{"type":"landmarks"}`)
	h.serverSays(`{"type":"error","message":"model not loaded"}`)

	require.Eventually(t, func() bool { return len(h.render.alertList()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "model not loaded", h.render.alertList()[0])
	assert.Equal(t, mode.Off, h.state(t).Mode)
}

func TestSession_StatusReconciliation(t *testing.T) {
	h := newHarness(t, nil)

	h.serverSays(`{"type":"status","cvRunning":true,"playReference":false}`)
	h.waitMode(t, mode.Live)
	assert.True(t, h.state(t).CaptureArmed)

	h.serverSays(`{"type":"status","cvRunning":false,"playReference":false}`)
	h.waitMode(t, mode.Off)
	assert.False(t, h.state(t).CaptureArmed)
	assert.Zero(t, h.log.count("send:toggle:false"), "server-driven changes are not echoed")
}

func TestSession_StaleStatusKeepsPendingRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.ReferenceRequested)

	h.serverSays(`{"type":"status","cvRunning":false,"playReference":false}`)
	h.serverSays(allLandmarks(2))
	h.waitMode(t, mode.Reference)
}

func TestSession_ServerStartsAndStopsReference(t *testing.T) {
	h := newHarness(t, nil)

	h.serverSays(`{"type":"play_reference","value":true}`)
	h.waitMode(t, mode.ReferenceRequested)
	assert.Zero(t, h.log.count("send:play_reference:true"))

	h.serverSays(allLandmarks(2))
	h.waitMode(t, mode.Reference)

	h.serverSays(`{"type":"play_reference","value":false}`)
	h.waitMode(t, mode.Off)
	assert.Zero(t, h.log.count("send:play_reference:false"))
	assert.Equal(t, playback.StateStopped, h.state(t).Playback)
}

func TestSession_ReferenceCompletedFromServer(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 10)

	h.serverSays(`{"type":"reference_completed"}`)
	h.waitMode(t, mode.Off)
	assert.Equal(t, playback.StateCompleted, h.state(t).Playback)
}

func TestSession_EmptyReferenceAlerts(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.ReferenceRequested)

	h.serverSays(`{"type":"all_landmarks","landmarks":[]}`)
	h.waitMode(t, mode.Off)
	require.Len(t, h.render.alertList(), 1)
	assert.Contains(t, h.render.alertList()[0], "reference playback unavailable")
}

func TestSession_ResendsFrameRequestOnReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.state.Store(pub.ConnClosed)

	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.ReferenceRequested)
	assert.Zero(t, h.log.count("send:play_reference:true"))

	h.conn.state.Store(pub.ConnOpen)
	h.events <- transport.Opened{}
	require.Eventually(t, func() bool { return h.log.count("send:play_reference:true") == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSession_LiveLandmarksRenderInViewport(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Inbox() <- Layout{Viewport: pub.Viewport{Width: 400, Height: 200}}
	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)

	h.serverSays(`{"type":"landmarks","data":{"points":[[0,0],[100,50]],"contourIndices":{"jaw":[0,1]},` +
		`"bounds":{"minX":0,"maxX":100,"minY":0,"maxY":50},"sourceFrameSize":{"width":200,"height":100}}}`)
	require.Eventually(t, func() bool { return len(h.state(t).Overlay.Segments) == 1 },
		time.Second, 5*time.Millisecond)

	v := h.state(t)
	assert.Equal(t, pub.KindLive, v.Overlay.Kind)

	h.s.Inbox() <- DisableLive{}
	h.waitMode(t, mode.Off)
	assert.Empty(t, h.state(t).Overlay.Segments)
}

func TestSession_CloseClosesSocket(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Close())
	assert.EqualValues(t, 1, h.conn.closes.Load())
}

func TestSession_ReenableLiveWhileCameraBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)

	h.cam.hold.Store(true)
	h.ticks.last(t, captureEvery).tick(t)
	require.Eventually(t, func() bool { return h.state(t).CaptureInFlight },
		time.Second, 5*time.Millisecond)

	h.s.Inbox() <- DisableLive{}
	h.s.Inbox() <- EnableLive{}
	h.waitMode(t, mode.Live)

	assert.Empty(t, h.render.alertList())
	assert.Equal(t, 2, h.log.count("send:frame:single=true"))
	assert.Equal(t, 2, h.log.count("send:toggle:true"))
}

func TestSession_StatusDoesNotStopLocalReplay(t *testing.T) {
	h := newHarness(t, nil)
	h.startReference(t, 50)
	h.s.Inbox() <- StopReference{}

	h.s.Inbox() <- RequestReference{}
	h.waitMode(t, mode.Reference)
	assert.Equal(t, 1, h.log.count("send:play_reference:true"), "cached frames are replayed without asking")

	h.serverSays(`{"type":"status","cvRunning":false,"playReference":false}`)
	h.serverSays(`{"type":"error","message":"marker"}`)
	require.Eventually(t, func() bool { return len(h.render.alertList()) == 1 }, time.Second, 5*time.Millisecond)

	v := h.state(t)
	assert.Equal(t, mode.Reference, v.Mode)
	assert.Equal(t, playback.StatePlaying, v.Playback)
	assert.True(t, v.PlaybackArmed)
}

func TestSession_StatusStopsServerStartedReference(t *testing.T) {
	h := newHarness(t, nil)
	h.serverSays(`{"type":"play_reference","value":true}`)
	h.waitMode(t, mode.ReferenceRequested)
	h.serverSays(allLandmarks(5))
	h.waitMode(t, mode.Reference)

	h.serverSays(`{"type":"status","cvRunning":false,"playReference":false}`)
	h.waitMode(t, mode.Off)
	assert.Equal(t, playback.StateStopped, h.state(t).Playback)
	assert.Zero(t, h.log.count("send:play_reference:false"))
}
