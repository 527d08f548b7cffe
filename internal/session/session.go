package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/capture"
	"github.com/DoyleJ11/landmark-client/internal/mode"
	"github.com/DoyleJ11/landmark-client/internal/overlay"
	"github.com/DoyleJ11/landmark-client/internal/playback"
	"github.com/DoyleJ11/landmark-client/internal/protocol"
	"github.com/DoyleJ11/landmark-client/internal/transport"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"go.uber.org/zap"
)

const maxAlerts = 16

type Msg interface{ isSessionMsg() }

type EnableLive struct{}

type DisableLive struct{}

type RequestReference struct{}

type StopReference struct{}

// Layout reports the preview element's current size.
type Layout struct{ Viewport pub.Viewport }

type GetState struct{ Reply chan View }

// Dispose runs the mode-exit cleanup. CloseSocket also closes the
// connection, which stops its reconnect loop.
type Dispose struct {
	CloseSocket bool
	Done        chan error
}

type captureDone struct{ Result capture.Result }

func (EnableLive) isSessionMsg()       {}
func (DisableLive) isSessionMsg()      {}
func (RequestReference) isSessionMsg() {}
func (StopReference) isSessionMsg()    {}
func (Layout) isSessionMsg()           {}
func (GetState) isSessionMsg()         {}
func (Dispose) isSessionMsg()          {}
func (captureDone) isSessionMsg()      {}

// View is a copy of the session state, safe to hand to other goroutines.
type View struct {
	Mode            mode.State          `json:"mode"`
	Running         bool                `json:"running"`
	Connection      pub.ConnectionState `json:"connection"`
	Playback        playback.State      `json:"playback"`
	Cursor          int                 `json:"cursor"`
	ReferenceFrames int                 `json:"referenceFrames"`
	ReferenceReady  bool                `json:"referenceReady"`
	CaptureInFlight bool                `json:"captureInFlight"`
	CaptureArmed    bool                `json:"captureArmed"`
	PlaybackArmed   bool                `json:"playbackArmed"`
	Viewport        pub.Viewport        `json:"viewport"`
	Overlay         pub.Overlay         `json:"overlay"`
	Alerts          []string            `json:"alerts"`
}

// Conn is the slice of the transport the session drives.
type Conn interface {
	Send(msg any) bool
	State() pub.ConnectionState
	Close()
}

// Renderer receives overlay updates and user-facing alerts. Calls happen
// on the session goroutine.
type Renderer interface {
	Render(o pub.Overlay)
	Alert(msg string)
}

type Options struct {
	Conn   Conn
	Events <-chan transport.Event
	Camera capture.Camera
	Audio  playback.Audio

	AudioAsset         string
	CaptureInterval    time.Duration // 0 keeps live mode single-shot
	MinCaptureInterval time.Duration
	PlaybackInterval   time.Duration

	NewTicker func(time.Duration) Ticker
	Renderer  Renderer
	Logger    *zap.Logger
}

// Session is the single event loop for one capture/playback screen. All of
// its state is owned by loop; other goroutines talk to it through Inbox.
type Session struct {
	inbox  chan Msg
	events <-chan transport.Event
	ctx    context.Context
	cancel context.CancelFunc

	conn       Conn
	capture    *capture.Pipeline
	sync       *playback.Synchronizer
	dispatcher *protocol.Dispatcher
	renderer   Renderer
	log        *zap.Logger
	newTicker  func(time.Duration) Ticker

	captureEvery time.Duration
	playEvery    time.Duration

	state        mode.State
	serverRef    bool // the running reference was started by the server
	live         *pub.LandmarkFrame
	ref          *pub.LandmarkFrame
	viewport     pub.Viewport
	overlay      pub.Overlay
	alerts       []string
	captureTimer Ticker
	playTimer    Ticker
}

func New(parent context.Context, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTicker
	}
	if opts.PlaybackInterval <= 0 {
		opts.PlaybackInterval = 33 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:        make(chan Msg, 64),
		events:       opts.Events,
		ctx:          ctx,
		cancel:       cancel,
		conn:         opts.Conn,
		renderer:     opts.Renderer,
		log:          opts.Logger.Named("session"),
		newTicker:    opts.NewTicker,
		captureEvery: opts.CaptureInterval,
		playEvery:    opts.PlaybackInterval,
		state:        mode.Off,
	}
	s.capture = capture.NewPipeline(opts.Camera, opts.Conn, capture.Options{
		MinInterval: opts.MinCaptureInterval,
		Logger:      opts.Logger,
	})
	s.sync = playback.NewSynchronizer(opts.Audio, opts.AudioAsset, playback.Hooks{
		OnFrame:    s.onReferenceFrame,
		OnComplete: s.onReferenceComplete,
	}, opts.Logger)
	s.dispatcher = protocol.NewDispatcher(protocol.HandlerFunc(s.handleInbound), opts.Logger)

	go s.loop()
	return s
}

// Inbox is how UI handlers and tests talk to the session.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Close runs the full teardown, closes the socket, and stops the loop.
func (s *Session) Close() error {
	done := make(chan error, 1)
	select {
	case s.inbox <- Dispose{CloseSocket: true, Done: done}:
	case <-s.ctx.Done():
		return nil
	}
	var err error
	select {
	case err = <-done:
	case <-s.ctx.Done():
	}
	s.cancel()
	return err
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			if err := s.dispose(false); err != nil {
				s.log.Warn("cleanup on shutdown", zap.Error(err))
			}
			return

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				break
			}
			s.handleTransport(ev)

		case <-tickC(s.captureTimer):
			s.captureTick()

		case <-tickC(s.playTimer):
			s.sync.Tick()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case EnableLive:
				s.apply(mode.Command{Type: mode.CmdEnableLive}, "")

			case DisableLive:
				s.apply(mode.Command{Type: mode.CmdDisableLive}, "")

			case RequestReference:
				s.requestReference(false)

			case StopReference:
				s.apply(mode.Command{Type: mode.CmdStopReference}, "")

			case Layout:
				s.viewport = msg.Viewport
				s.render()

			case captureDone:
				s.finishCapture(msg.Result)

			case Dispose:
				msg.Done <- s.dispose(msg.CloseSocket)

			case GetState:
				msg.Reply <- s.view()
			}
		}
	}
}

// apply runs one mode transition. The new state is recorded before effects
// run so that effects which fail can apply their own follow-up command.
func (s *Session) apply(cmd mode.Command, alert string) {
	effs, next, err := mode.Apply(s.state, cmd)
	if err != nil {
		s.log.Debug("ignored command", zap.String("cmd", string(cmd.Type)), zap.String("mode", string(s.state)))
		return
	}

	prev := s.state
	s.state = next
	if mode.IsLive(prev) && !mode.IsLive(next) {
		s.capture.Cancel()
	}
	if prev != next {
		s.log.Info("mode changed", zap.String("from", string(prev)), zap.String("to", string(next)), zap.String("cmd", string(cmd.Type)))
	}
	if next == mode.ReferenceRequested && prev != next {
		s.sync.Request()
	}

	for _, e := range effs {
		s.runEffect(e, alert)
	}
}

func (s *Session) runEffect(e mode.Effect, alert string) {
	switch e {
	case mode.EffCaptureSingle:
		if err := s.capture.Start(s.ctx, capture.ModeSingle, s.postCapture); err != nil {
			s.apply(mode.Command{Type: mode.CmdCaptureFailed}, captureAlert(err))
		}

	case mode.EffStartContinuous:
		if s.captureEvery > 0 && s.captureTimer == nil {
			s.captureTimer = s.newTicker(s.captureEvery)
		}

	case mode.EffStopCapture:
		s.stopCaptureTimer()

	case mode.EffSendToggleOn:
		s.send(protocol.Toggle(true))

	case mode.EffSendToggleOff:
		s.send(protocol.Toggle(false))

	case mode.EffClearLive:
		s.live = nil
		s.render()

	case mode.EffRequestFrames:
		s.send(protocol.PlayReference(true, true))

	case mode.EffStartPlayback:
		s.startPlayback()

	case mode.EffStopPlayback:
		s.stopPlayTimer()
		s.sync.Stop()

	case mode.EffSendPlayReferenceOff:
		s.send(protocol.PlayReference(false, false))

	case mode.EffAlert:
		s.alert(alert)
	}
}

func (s *Session) requestReference(fromServer bool) {
	prev := s.state
	s.apply(mode.Command{Type: mode.CmdRequestReference, FromServer: fromServer, Loaded: s.sync.Ready()}, "")
	if s.state != prev && mode.IsReference(s.state) {
		s.serverRef = fromServer
	}
}

func (s *Session) startPlayback() {
	s.stopPlayTimer()
	if err := s.sync.Start(); err != nil {
		s.apply(mode.Command{Type: mode.CmdPlaybackFailed}, "reference playback unavailable: "+err.Error())
		return
	}
	s.playTimer = s.newTicker(s.playEvery)
}

func (s *Session) captureTick() {
	if s.state != mode.Live {
		return
	}
	err := s.capture.Start(s.ctx, capture.ModeContinuous, s.postCapture)
	if err != nil {
		s.log.Debug("capture tick skipped", zap.Error(err))
	}
}

func (s *Session) postCapture(res capture.Result) {
	select {
	case s.inbox <- captureDone{Result: res}:
	case <-s.ctx.Done():
	}
}

func (s *Session) finishCapture(res capture.Result) {
	if !mode.IsLive(s.state) {
		s.capture.Discard(res)
		return
	}

	err := s.capture.Finish(res)
	switch {
	case errors.Is(err, capture.ErrStale):
	case err == nil:
		if s.state == mode.LiveRequested {
			s.apply(mode.Command{Type: mode.CmdCaptureSucceeded}, "")
		}
	case errors.Is(err, capture.ErrNotOpen) && res.Mode == capture.ModeContinuous:
		// transport trouble is shown as connection state, not an alert
		s.log.Debug("continuous frame dropped", zap.Error(err))
	default:
		s.apply(mode.Command{Type: mode.CmdCaptureFailed}, captureAlert(err))
	}
}

func captureAlert(err error) string {
	if errors.Is(err, capture.ErrNotOpen) {
		return "not connected to the vision service"
	}
	return fmt.Sprintf("could not capture a frame: %v", err)
}

func (s *Session) handleTransport(ev transport.Event) {
	switch e := ev.(type) {
	case transport.Opened:
		s.log.Info("connected")
		if s.state == mode.ReferenceRequested && !s.sync.Ready() {
			s.send(protocol.PlayReference(true, true))
		}
	case transport.Closed:
		s.log.Info("disconnected", zap.Bool("explicit", e.Explicit))
	case transport.Error:
		s.log.Warn("transport error", zap.Error(e.Err))
	case transport.Message:
		s.dispatcher.Dispatch(e.Raw)
	}
}

func (s *Session) handleInbound(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Landmarks:
		if !mode.IsLive(s.state) {
			return
		}
		f := m.Frame
		s.live = &f
		s.render()

	case protocol.AllLandmarks:
		s.sync.Load(m.Frames)
		if s.state == mode.Reference {
			// a fresh sequence replaces the one being played
			s.startPlayback()
			return
		}
		s.apply(mode.Command{Type: mode.CmdReferenceLoaded}, "")

	case protocol.Status:
		switch {
		case !m.CVRunning && s.state == mode.Live:
			s.apply(mode.Command{Type: mode.CmdServerLiveOff, FromServer: true}, "")
		case m.CVRunning && s.state == mode.Off:
			s.apply(mode.Command{Type: mode.CmdServerLiveOn, FromServer: true}, "")
		}
		// a replay from cached frames is local, so only playback the server
		// started follows playReference=false
		switch {
		case !m.PlayReference && s.state == mode.Reference && s.serverRef:
			s.apply(mode.Command{Type: mode.CmdStopReference, FromServer: true}, "")
		case m.PlayReference && !m.CVRunning && s.state == mode.Off:
			s.requestReference(true)
		}

	case protocol.PlayReferenceCmd:
		if m.Value {
			s.requestReference(true)
		} else {
			s.apply(mode.Command{Type: mode.CmdStopReference, FromServer: true}, "")
		}

	case protocol.ReferenceCompleted:
		if mode.IsReference(s.state) {
			s.stopPlayTimer()
			s.sync.Finish()
		}

	case protocol.ServerError:
		s.alert(m.Message)
	}
}

func (s *Session) onReferenceFrame(f *pub.LandmarkFrame) {
	s.ref = f
	s.render()
}

func (s *Session) onReferenceComplete() {
	s.stopPlayTimer()
	s.apply(mode.Command{Type: mode.CmdReferenceEnded}, "")
}

// dispose cancels timers, then releases audio, then tells the server to
// stop, in that order. Every step checks what is still held, so running it
// again is a no-op.
func (s *Session) dispose(closeSocket bool) error {
	s.stopCaptureTimer()
	s.stopPlayTimer()
	s.capture.Cancel()

	err := s.sync.Release()

	if mode.Running(s.state) && s.conn.State() == pub.ConnOpen {
		s.send(protocol.Toggle(false))
	}
	if s.state != mode.Off {
		s.log.Info("mode changed", zap.String("from", string(s.state)), zap.String("to", string(mode.Off)), zap.String("cmd", "Dispose"))
	}
	s.state = mode.Off
	s.live = nil
	s.ref = nil
	s.render()

	if closeSocket {
		s.conn.Close()
	}
	return err
}

func (s *Session) stopCaptureTimer() {
	if s.captureTimer != nil {
		s.captureTimer.Stop()
		s.captureTimer = nil
	}
}

func (s *Session) stopPlayTimer() {
	if s.playTimer != nil {
		s.playTimer.Stop()
		s.playTimer = nil
	}
}

func (s *Session) send(msg any) {
	if !s.conn.Send(msg) {
		s.log.Debug("message dropped, socket not open", zap.Any("msg", msg))
	}
}

func (s *Session) render() {
	var o pub.Overlay
	switch {
	case s.ref != nil:
		o = overlay.Render(*s.ref, s.viewport)
	case s.live != nil && mode.IsLive(s.state):
		o = overlay.Render(*s.live, s.viewport)
	}
	s.overlay = o
	if s.renderer != nil {
		s.renderer.Render(o)
	}
}

func (s *Session) alert(msg string) {
	if msg == "" {
		return
	}
	s.log.Warn("alert", zap.String("message", msg))
	s.alerts = append(s.alerts, msg)
	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-maxAlerts:]
	}
	if s.renderer != nil {
		s.renderer.Alert(msg)
	}
}

func (s *Session) view() View {
	return View{
		Mode:            s.state,
		Running:         mode.Running(s.state),
		Connection:      s.conn.State(),
		Playback:        s.sync.State(),
		Cursor:          s.sync.Cursor(),
		ReferenceFrames: s.sync.Len(),
		ReferenceReady:  s.sync.Ready(),
		CaptureInFlight: s.capture.InFlight(),
		CaptureArmed:    s.captureTimer != nil,
		PlaybackArmed:   s.playTimer != nil,
		Viewport:        s.viewport,
		Overlay:         s.overlay,
		Alerts:          append([]string(nil), s.alerts...),
	}
}
