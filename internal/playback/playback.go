package playback

import (
	"errors"
	"time"

	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNoFrames = errors.New("no reference frames loaded")

type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

type Handle string

// Audio is the device playback capability.
type Audio interface {
	Load(asset string) (Handle, error)
	Play(h Handle, from time.Duration) error
	Stop(h Handle) error
	Unload(h Handle) error
}

// Hooks are invoked synchronously from Start, Tick, Stop and Finish.
// OnFrame(nil) clears the overlay.
type Hooks struct {
	OnFrame    func(f *pub.LandmarkFrame)
	OnComplete func()
}

// Synchronizer steps through a reference sequence on a fixed period while
// audio plays. The caller owns the timer and calls Tick once per period;
// audio position is never read back.
type Synchronizer struct {
	audio Audio
	asset string
	hooks Hooks
	log   *zap.Logger

	state  State
	frames []pub.LandmarkFrame
	loaded bool
	cursor int

	handle       Handle
	audioPlaying bool
}

func NewSynchronizer(audio Audio, asset string, hooks Hooks, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		audio: audio,
		asset: asset,
		hooks: hooks,
		log:   log.Named("playback"),
		state: StateIdle,
	}
}

func (s *Synchronizer) State() State { return s.state }
func (s *Synchronizer) Cursor() int  { return s.cursor }
func (s *Synchronizer) Ready() bool  { return s.loaded }
func (s *Synchronizer) Len() int     { return len(s.frames) }

// Load replaces the reference sequence. A running playback is stopped first.
func (s *Synchronizer) Load(frames []pub.LandmarkFrame) {
	if s.state == StatePlaying {
		s.Stop()
	}
	s.frames = frames
	s.loaded = true
	s.cursor = 0
	s.log.Info("reference loaded", zap.Int("frames", len(frames)))
}

// Request marks playback as wanted. It reports whether frames are already
// available; if not, the synchronizer waits in loading.
func (s *Synchronizer) Request() bool {
	if s.loaded {
		return true
	}
	s.state = StateLoading
	return false
}

// Start plays from the first frame. Audio problems are logged and the
// animation runs silent.
func (s *Synchronizer) Start() error {
	if !s.loaded || len(s.frames) == 0 {
		s.state = StateIdle
		return ErrNoFrames
	}
	if s.state == StatePlaying {
		s.Stop()
	}

	s.cursor = 0
	s.state = StatePlaying
	s.startAudio()
	s.publish(&s.frames[0])
	return nil
}

// Tick advances one frame. The tick that would pass the last frame
// completes playback and leaves the cursor on it.
func (s *Synchronizer) Tick() {
	if s.state != StatePlaying {
		return
	}
	if s.cursor+1 >= len(s.frames) {
		s.complete()
		return
	}
	s.cursor++
	s.publish(&s.frames[s.cursor])
}

// Stop cancels playback or a pending load. No completion is published.
func (s *Synchronizer) Stop() bool {
	if s.state != StatePlaying && s.state != StateLoading {
		return false
	}
	wasPlaying := s.state == StatePlaying
	if err := s.releaseAudio(); err != nil {
		s.log.Warn("audio release failed", zap.Error(err))
	}
	s.state = StateStopped
	if wasPlaying {
		s.publish(nil)
	}
	s.log.Info("reference stopped", zap.Int("cursor", s.cursor))
	return true
}

// Finish forces completion regardless of cursor position.
func (s *Synchronizer) Finish() bool {
	if s.state != StatePlaying && s.state != StateLoading {
		return false
	}
	s.complete()
	return true
}

// Release returns to idle and frees the audio handle. Safe to call any
// number of times; only held resources are touched.
func (s *Synchronizer) Release() error {
	err := s.releaseAudio()
	s.state = StateIdle
	return err
}

func (s *Synchronizer) complete() {
	if err := s.releaseAudio(); err != nil {
		s.log.Warn("audio release failed", zap.Error(err))
	}
	s.state = StateCompleted
	s.publish(nil)
	s.log.Info("reference completed", zap.Int("cursor", s.cursor), zap.Int("frames", len(s.frames)))
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete()
	}
}

func (s *Synchronizer) startAudio() {
	if s.audio == nil || s.asset == "" {
		return
	}
	if s.handle == "" {
		h, err := s.audio.Load(s.asset)
		if err != nil {
			s.log.Warn("reference audio unavailable", zap.String("asset", s.asset), zap.Error(err))
			return
		}
		s.handle = h
	}
	if err := s.audio.Play(s.handle, 0); err != nil {
		s.log.Warn("reference audio failed to play", zap.Error(err))
		return
	}
	s.audioPlaying = true
}

func (s *Synchronizer) releaseAudio() error {
	var err error
	if s.audioPlaying {
		err = multierr.Append(err, s.audio.Stop(s.handle))
		s.audioPlaying = false
	}
	if s.handle != "" {
		err = multierr.Append(err, s.audio.Unload(s.handle))
		s.handle = ""
	}
	return err
}

func (s *Synchronizer) publish(f *pub.LandmarkFrame) {
	if s.hooks.OnFrame != nil {
		s.hooks.OnFrame(f)
	}
}
