// Package overlay maps landmark coordinates from the producer's pixel space
// onto the on-screen camera preview.
package overlay

import (
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
)

// DefaultContours is the 68-point face table, used when a producer omits
// contourIndices. The outer lip loop is closed back onto 48.
var DefaultContours = map[string][]int{
	pub.ContourJaw:   seq(0, 16),
	pub.ContourMouth: append(seq(48, 59), 48),
}

// contourOrder keeps segment output stable across calls.
var contourOrder = []string{pub.ContourJaw, pub.ContourMouth}

var (
	LiveStyle      = pub.Style{Color: "#00E676", Width: 2}
	ReferenceStyle = pub.Style{Color: "#FF9100", Width: 3}
)

func StyleFor(k pub.Kind) pub.Style {
	if k == pub.KindReference {
		return ReferenceStyle
	}
	return LiveStyle
}

// Transform is the affine map for one frame/viewport pair.
type Transform struct {
	ScaleX, ScaleY float64
	View           pub.Point // view center
	Landmark       pub.Point // landmark center, Y relative to bounds.MinY
	MinY           float64
}

// NewTransform returns false when no sensible mapping exists (no area, no
// source width, degenerate bounds).
func NewTransform(f pub.LandmarkFrame, v pub.Viewport) (Transform, bool) {
	if v.Empty() || f.SourceFrameSize.Width <= 0 {
		return Transform{}, false
	}
	b := f.EffectiveBounds()
	if b.Height() <= 0 {
		return Transform{}, false
	}

	return Transform{
		ScaleX:   v.Width / f.SourceFrameSize.Width,
		ScaleY:   v.Height / b.Height(),
		View:     pub.Point{X: v.Width / 2, Y: v.Height / 2},
		Landmark: pub.Point{X: b.Center().X, Y: b.Height() / 2},
		MinY:     b.MinY,
	}, true
}

func (t Transform) Apply(p pub.Point) pub.Point {
	return pub.Point{
		X: t.View.X + (p.X-t.Landmark.X)*t.ScaleX,
		Y: t.View.Y + ((p.Y-t.MinY)-t.Landmark.Y)*t.ScaleY,
	}
}

// Project returns the line segments for every known contour of f, in
// viewport pixels. Index pairs outside f.Points are skipped.
func Project(f pub.LandmarkFrame, v pub.Viewport) []pub.Segment {
	if !f.HasFace() {
		return nil
	}
	t, ok := NewTransform(f, v)
	if !ok {
		return nil
	}

	contours := f.ContourIndices
	if len(contours) == 0 {
		contours = DefaultContours
	}

	var segs []pub.Segment
	for _, name := range contourOrder {
		idx := contours[name]
		for i := 0; i+1 < len(idx); i++ {
			a, b := idx[i], idx[i+1]
			if !inRange(a, len(f.Points)) || !inRange(b, len(f.Points)) {
				continue
			}
			segs = append(segs, pub.Segment{
				Contour: name,
				From:    t.Apply(f.Points[a]),
				To:      t.Apply(f.Points[b]),
			})
		}
	}
	return segs
}

// Render builds the full overlay for f, styled by its kind.
func Render(f pub.LandmarkFrame, v pub.Viewport) pub.Overlay {
	return pub.Overlay{Kind: f.Kind, Style: StyleFor(f.Kind), Segments: Project(f, v)}
}

func inRange(i, n int) bool { return i >= 0 && i < n }

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
