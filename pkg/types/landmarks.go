package types

import (
	"encoding/json"
	"errors"
	"math"
)

type Kind string

const (
	KindLive      Kind = "live"
	KindReference Kind = "reference"
)

// Contour names the producer is expected to send.
const (
	ContourJaw   = "jaw"
	ContourMouth = "mouth"
)

// Point is a 2-D coordinate. On the wire it is either [x, y] or {"x":..,"y":..}.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) < 2 {
			return errors.New("point needs two coordinates")
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}

	type plain Point
	var pt plain
	if err := json.Unmarshal(data, &pt); err != nil {
		return err
	}
	*p = Point(pt)
	return nil
}

type Bounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Center is the midpoint of the box.
func (b Bounds) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

type FrameSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LandmarkFrame is one sampled set of facial keypoints. Points is nil when
// the producer found no face.
type LandmarkFrame struct {
	Points          []Point          `json:"points"`
	Kind            Kind             `json:"kind,omitempty"`
	ContourIndices  map[string][]int `json:"contourIndices,omitempty"`
	Bounds          Bounds           `json:"bounds"`
	SourceFrameSize FrameSize        `json:"sourceFrameSize"`
}

// HasFace reports whether the frame carries any points.
func (f LandmarkFrame) HasFace() bool { return f.Points != nil }

// EffectiveBounds returns the producer bounds, or bounds computed from the
// points when the reported box is degenerate.
func (f LandmarkFrame) EffectiveBounds() Bounds {
	if f.Bounds.Width() > 0 && f.Bounds.Height() > 0 {
		return f.Bounds
	}
	if len(f.Points) == 0 {
		return f.Bounds
	}
	b := Bounds{MinX: math.Inf(1), MaxX: math.Inf(-1), MinY: math.Inf(1), MaxY: math.Inf(-1)}
	for _, p := range f.Points {
		b.MinX = math.Min(b.MinX, p.X)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Viewport is the on-screen size of the camera preview.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (v Viewport) Empty() bool { return v.Width <= 0 || v.Height <= 0 }

type Style struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Segment is one renderable line in viewport pixel space.
type Segment struct {
	Contour string `json:"contour"`
	From    Point  `json:"from"`
	To      Point  `json:"to"`
}

// Overlay is what the renderer draws on top of the preview.
type Overlay struct {
	Kind     Kind      `json:"kind,omitempty"`
	Style    Style     `json:"style"`
	Segments []Segment `json:"segments"`
}

type ConnectionState string

const (
	ConnConnecting ConnectionState = "connecting"
	ConnOpen       ConnectionState = "open"
	ConnClosed     ConnectionState = "closed"
)
