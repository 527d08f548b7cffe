package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/landmark-client/internal/types"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"go.uber.org/zap"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")

func Frame(data string, single bool) types.FrameMessage {
	return types.FrameMessage{Type: types.TypeFrame, Data: data, SingleFrame: single}
}

func Toggle(on bool) types.ToggleMessage {
	return types.ToggleMessage{Type: types.TypeToggle, Value: on}
}

func PlayReference(on, once bool) types.PlayReferenceMessage {
	return types.PlayReferenceMessage{Type: types.TypePlayReference, Value: on, PlayOnce: once}
}

// Inbound is one decoded server message.
type Inbound interface{ isInbound() }

type Landmarks struct{ Frame pub.LandmarkFrame }

type AllLandmarks struct{ Frames []pub.LandmarkFrame }

type Status struct {
	CVRunning     bool
	PlayReference bool
}

type PlayReferenceCmd struct{ Value bool }

type ReferenceCompleted struct{}

type ServerError struct{ Message string }

func (Landmarks) isInbound()          {}
func (AllLandmarks) isInbound()       {}
func (Status) isInbound()             {}
func (PlayReferenceCmd) isInbound()   {}
func (ReferenceCompleted) isInbound() {}
func (ServerError) isInbound()        {}

// Decode parses one raw text frame. Unknown types come back wrapped in
// ErrUnknownType so callers can log them without treating them as corrupt.
func Decode(raw []byte) (Inbound, error) {
	var m types.ServerMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m.Type {
	case types.TypeLandmarks:
		if m.Data == nil {
			return nil, fmt.Errorf("%w: landmarks without data", ErrMalformed)
		}
		f := *m.Data
		if f.Kind == "" {
			f.Kind = pub.KindLive
		}
		return Landmarks{Frame: f}, nil

	case types.TypeAllLandmarks:
		frames := make([]pub.LandmarkFrame, len(m.Landmarks))
		for i, f := range m.Landmarks {
			if f.Kind == "" {
				f.Kind = pub.KindReference
			}
			frames[i] = f
		}
		return AllLandmarks{Frames: frames}, nil

	case types.TypeStatus:
		return Status{CVRunning: deref(m.CVRunning), PlayReference: deref(m.PlayReference)}, nil

	case types.TypePlayReference:
		if m.Value == nil {
			return nil, fmt.Errorf("%w: play_reference without value", ErrMalformed)
		}
		return PlayReferenceCmd{Value: *m.Value}, nil

	case types.TypeReferenceCompleted:
		return ReferenceCompleted{}, nil

	case types.TypeError:
		return ServerError{Message: m.Message}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

func deref(b *bool) bool { return b != nil && *b }

// Handler receives decoded inbound messages in arrival order.
type Handler interface {
	HandleInbound(msg Inbound)
}

type HandlerFunc func(Inbound)

func (f HandlerFunc) HandleInbound(msg Inbound) { f(msg) }

// Dispatcher decodes raw payloads and routes them to a Handler. Bad payloads
// are logged and dropped; Dispatch never fails the caller.
type Dispatcher struct {
	h   Handler
	log *zap.Logger

	dropped uint64
}

func NewDispatcher(h Handler, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{h: h, log: log.Named("dispatch")}
}

// Dispatch reports whether raw was delivered to the handler.
func (d *Dispatcher) Dispatch(raw []byte) bool {
	msg, err := Decode(raw)
	switch {
	case errors.Is(err, ErrUnknownType):
		d.dropped++
		d.log.Info("ignoring unknown message", zap.Error(err))
		return false
	case err != nil:
		d.dropped++
		d.log.Warn("dropping bad message", zap.Error(err), zap.Int("bytes", len(raw)))
		return false
	}

	d.h.HandleInbound(msg)
	return true
}

// Dropped counts payloads that never reached the handler.
func (d *Dispatcher) Dropped() uint64 { return d.dropped }
