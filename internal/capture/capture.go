package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/protocol"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInFlight = errors.New("capture already in flight")
var ErrNotOpen = errors.New("connection not open")
var ErrThrottled = errors.New("capture interval not elapsed")
var ErrNoImage = errors.New("camera returned no image")
var ErrEmptyImage = errors.New("empty image")
var ErrStale = errors.New("stale capture result")

type Mode string

const (
	ModeSingle     Mode = "single"
	ModeContinuous Mode = "continuous"
)

// Camera takes one still image. Implementations may block.
type Camera interface {
	TakeStillImage(ctx context.Context) ([]byte, error)
}

// Sender is the slice of the transport the pipeline needs.
type Sender interface {
	Send(msg any) bool
	State() pub.ConnectionState
}

// Result is posted back to the event loop once the camera returns.
type Result struct {
	ID    string
	Mode  Mode
	Image []byte
	Err   error
}

// Pipeline is not safe for concurrent use: Start and Finish must be called
// from the same event loop. Only the camera call runs elsewhere.
type Pipeline struct {
	cam         Camera
	conn        Sender
	log         *zap.Logger
	minInterval time.Duration
	now         func() time.Time

	inFlight string
	abort    context.CancelFunc
	last     time.Time
}

type Options struct {
	MinInterval time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

func NewPipeline(cam Camera, conn Sender, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		cam:         cam,
		conn:        conn,
		log:         opts.Logger.Named("capture"),
		minInterval: opts.MinInterval,
		now:         opts.Now,
	}
}

// InFlight reports whether a capture is pending.
func (p *Pipeline) InFlight() bool { return p.inFlight != "" }

func (p *Pipeline) LastCapture() time.Time { return p.last }

// Start checks preconditions and, if they hold, runs the camera in its own
// goroutine and hands the Result to post. A rejected start returns the reason
// and leaves state unchanged.
func (p *Pipeline) Start(ctx context.Context, mode Mode, post func(Result)) error {
	if p.conn.State() != pub.ConnOpen {
		return ErrNotOpen
	}
	if p.InFlight() {
		return ErrInFlight
	}
	now := p.now()
	if mode == ModeContinuous && !p.last.IsZero() && now.Sub(p.last) < p.minInterval {
		return ErrThrottled
	}

	id := uuid.NewString()
	camCtx, abort := context.WithCancel(ctx)
	p.inFlight = id
	p.abort = abort
	p.last = now

	go func() {
		img, err := p.cam.TakeStillImage(camCtx)
		abort()
		post(Result{ID: id, Mode: mode, Image: img, Err: err})
	}()
	return nil
}

// Cancel gives up the pending capture, if any. The camera call is
// cancelled and its result, whenever it arrives, is stale.
func (p *Pipeline) Cancel() {
	if !p.InFlight() {
		return
	}
	p.log.Debug("capture cancelled", zap.String("capture_id", p.inFlight))
	p.release()
}

func (p *Pipeline) release() {
	if p.abort != nil {
		p.abort()
		p.abort = nil
	}
	p.inFlight = ""
}

// Finish encodes and sends a completed capture. Nothing is sent unless every
// step succeeds.
func (p *Pipeline) Finish(res Result) error {
	if res.ID == "" || res.ID != p.inFlight {
		return ErrStale
	}
	p.release()

	if res.Err != nil {
		return fmt.Errorf("%w: %v", ErrNoImage, res.Err)
	}
	data, err := Encode(res.Image)
	if err != nil {
		return err
	}
	if p.conn.State() != pub.ConnOpen {
		return ErrNotOpen
	}
	if !p.conn.Send(protocol.Frame(data, res.Mode == ModeSingle)) {
		return ErrNotOpen
	}

	p.log.Debug("frame sent",
		zap.String("capture_id", res.ID),
		zap.String("mode", string(res.Mode)),
		zap.Int("bytes", len(res.Image)))
	return nil
}

// Discard releases the in-flight slot without sending, for results that
// arrive after the caller stopped wanting them.
func (p *Pipeline) Discard(res Result) {
	if res.ID != "" && res.ID == p.inFlight {
		p.release()
	}
}

func Encode(img []byte) (string, error) {
	if len(img) == 0 {
		return "", ErrEmptyImage
	}
	return base64.StdEncoding.EncodeToString(img), nil
}
