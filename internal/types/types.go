package types

import pub "github.com/DoyleJ11/landmark-client/pkg/types"

// Outbound message types.
const (
	TypeFrame         = "frame"
	TypeToggle        = "toggle"
	TypePlayReference = "play_reference"
)

// Inbound message types.
const (
	TypeLandmarks          = "landmarks"
	TypeAllLandmarks       = "all_landmarks"
	TypeStatus             = "status"
	TypeReferenceCompleted = "reference_completed"
	TypeError              = "error"
)

type FrameMessage struct {
	Type        string `json:"type"` // "frame"
	Data        string `json:"data"`
	SingleFrame bool   `json:"singleFrame,omitempty"`
}

type ToggleMessage struct {
	Type  string `json:"type"` // "toggle"
	Value bool   `json:"value"`
}

type PlayReferenceMessage struct {
	Type     string `json:"type"` // "play_reference"
	Value    bool   `json:"value"`
	PlayOnce bool   `json:"playOnce,omitempty"`
}

// ServerMessage is the union of every inbound envelope; Type picks which
// fields are meaningful.
type ServerMessage struct {
	Type          string              `json:"type"`
	Data          *pub.LandmarkFrame  `json:"data,omitempty"`
	Landmarks     []pub.LandmarkFrame `json:"landmarks,omitempty"`
	CVRunning     *bool               `json:"cvRunning,omitempty"`
	PlayReference *bool               `json:"playReference,omitempty"`
	Value         *bool               `json:"value,omitempty"`
	Message       string              `json:"message,omitempty"`
}

// Preview stream, between the client and local viewers.
const (
	TypeOverlay = "overlay"
	TypeAlert   = "alert"

	TypeViewerLive      = "live"
	TypeViewerReference = "reference"
	TypeViewerViewport  = "viewport"
)

type PreviewMessage struct {
	Type    string       `json:"type"` // "overlay" | "alert" | "error"
	Version int          `json:"version"`
	Overlay *pub.Overlay `json:"overlay,omitempty"`
	Message string       `json:"message,omitempty"`
}

type ViewerMessage struct {
	Type   string  `json:"type"` // "live" | "reference" | "viewport"
	Value  bool    `json:"value"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}
