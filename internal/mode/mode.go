package mode

import "errors"

var ErrInvalidTransition = errors.New("invalid mode transition")

type State string

const (
	Off                State = "off"
	LiveRequested      State = "liveRequested"
	Live               State = "live"
	ReferenceRequested State = "referenceRequested"
	Reference          State = "reference"
)

type CommandType string

const (
	CmdEnableLive       CommandType = "EnableLive"
	CmdDisableLive      CommandType = "DisableLive"
	CmdCaptureSucceeded CommandType = "CaptureSucceeded"
	CmdCaptureFailed    CommandType = "CaptureFailed"
	CmdRequestReference CommandType = "RequestReference"
	CmdReferenceLoaded  CommandType = "ReferenceLoaded"
	CmdPlaybackFailed   CommandType = "PlaybackFailed"
	CmdReferenceEnded   CommandType = "ReferenceEnded"
	CmdStopReference    CommandType = "StopReference"
	CmdServerLiveOff    CommandType = "ServerLiveOff"
	CmdServerLiveOn     CommandType = "ServerLiveOn"
)

/*
	EnableLive       -> (StopPlayback) -> CaptureSingle
	CaptureSucceeded -> SendToggleOn -> StartContinuous
	DisableLive      -> StopCapture -> SendToggleOff -> ClearLive
	RequestReference -> (StopCapture -> SendToggleOff -> ClearLive) -> StartPlayback | RequestFrames
	ReferenceLoaded  -> StartPlayback (only while waiting)
	StopReference    -> StopPlayback -> (SendPlayReferenceOff)
*/

type Command struct {
	Type CommandType
	// FromServer marks commands that mirror server state; they never echo a
	// state-changing message back.
	FromServer bool
	// Loaded tells RequestReference whether frames are already available.
	Loaded bool
}

type Effect string

const (
	EffCaptureSingle        Effect = "CaptureSingle"
	EffStartContinuous      Effect = "StartContinuous"
	EffStopCapture          Effect = "StopCapture"
	EffSendToggleOn         Effect = "SendToggleOn"
	EffSendToggleOff        Effect = "SendToggleOff"
	EffClearLive            Effect = "ClearLive"
	EffRequestFrames        Effect = "RequestFrames"
	EffStartPlayback        Effect = "StartPlayback"
	EffStopPlayback         Effect = "StopPlayback"
	EffSendPlayReferenceOff Effect = "SendPlayReferenceOff"
	EffAlert                Effect = "Alert"
)

// Apply returns the effects to run, in order, and the next state. An
// invalid command leaves the state untouched.
func Apply(s State, cmd Command) ([]Effect, State, error) {
	switch cmd.Type {
	case CmdEnableLive:
		switch s {
		case Off:
			return []Effect{EffCaptureSingle}, LiveRequested, nil
		case ReferenceRequested, Reference:
			return []Effect{EffStopPlayback, EffCaptureSingle}, LiveRequested, nil
		}

	case CmdCaptureSucceeded:
		if s == LiveRequested {
			return []Effect{EffSendToggleOn, EffStartContinuous}, Live, nil
		}

	case CmdCaptureFailed:
		switch s {
		case LiveRequested:
			return []Effect{EffClearLive, EffAlert}, Off, nil
		case Live:
			return []Effect{EffStopCapture, EffSendToggleOff, EffClearLive, EffAlert}, Off, nil
		}

	case CmdDisableLive:
		switch s {
		case LiveRequested:
			// the server was never toggled on
			return []Effect{EffClearLive}, Off, nil
		case Live:
			return []Effect{EffStopCapture, EffSendToggleOff, EffClearLive}, Off, nil
		}

	case CmdServerLiveOff:
		// a pending request is newer than whatever the server reported
		if s == Live {
			return []Effect{EffStopCapture, EffClearLive}, Off, nil
		}

	case CmdServerLiveOn:
		if s == Off {
			return []Effect{EffStartContinuous}, Live, nil
		}

	case CmdRequestReference:
		var effs []Effect
		switch s {
		case Off:
		case LiveRequested:
			effs = append(effs, EffClearLive)
		case Live:
			effs = append(effs, EffStopCapture, EffSendToggleOff, EffClearLive)
		default:
			return nil, s, ErrInvalidTransition
		}
		if cmd.Loaded {
			return append(effs, EffStartPlayback), Reference, nil
		}
		if !cmd.FromServer {
			effs = append(effs, EffRequestFrames)
		}
		return effs, ReferenceRequested, nil

	case CmdReferenceLoaded:
		if s == ReferenceRequested {
			return []Effect{EffStartPlayback}, Reference, nil
		}
		// frames are cached for later; nothing to do now
		return nil, s, nil

	case CmdPlaybackFailed:
		if s == Reference || s == ReferenceRequested {
			return []Effect{EffAlert}, Off, nil
		}

	case CmdReferenceEnded:
		if s == Reference || s == ReferenceRequested {
			return nil, Off, nil
		}
		return nil, s, nil

	case CmdStopReference:
		if s == Reference || s == ReferenceRequested {
			effs := []Effect{EffStopPlayback}
			if !cmd.FromServer {
				effs = append(effs, EffSendPlayReferenceOff)
			}
			return effs, Off, nil
		}
	}

	return nil, s, ErrInvalidTransition
}

// Running reports whether the state should show an active toggle.
func Running(s State) bool { return s != Off }

// IsLive reports whether live landmarks should be rendered.
func IsLive(s State) bool { return s == Live || s == LiveRequested }

// IsReference reports whether the playback timer may be armed.
func IsReference(s State) bool { return s == Reference || s == ReferenceRequested }
