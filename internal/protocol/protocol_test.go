package protocol

import (
	"encoding/json"
	"testing"

	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "status",
			raw:  `{"type":"status","cvRunning":true,"playReference":false}`,
			want: Status{CVRunning: true},
		},
		{
			name: "server driven play",
			raw:  `{"type":"play_reference","value":true}`,
			want: PlayReferenceCmd{Value: true},
		},
		{
			name: "completed",
			raw:  `{"type":"reference_completed"}`,
			want: ReferenceCompleted{},
		},
		{
			name: "server error",
			raw:  `{"type":"error","message":"model not loaded"}`,
			want: ServerError{Message: "model not loaded"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeLandmarks_DefaultsKindAndAcceptsPairs(t *testing.T) {
	raw := `{"type":"landmarks","data":{
		"points":[[1,2],{"x":3,"y":4}],
		"contourIndices":{"mouth":[0,1]},
		"bounds":{"minX":1,"maxX":3,"minY":2,"maxY":4},
		"sourceFrameSize":{"width":640,"height":480}}}`

	got, err := Decode([]byte(raw))
	require.NoError(t, err)

	lm, ok := got.(Landmarks)
	require.True(t, ok, "want Landmarks, got %T", got)
	assert.Equal(t, pub.KindLive, lm.Frame.Kind)
	assert.Equal(t, []pub.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, lm.Frame.Points)
	assert.Equal(t, []int{0, 1}, lm.Frame.ContourIndices[pub.ContourMouth])
	assert.Equal(t, 640.0, lm.Frame.SourceFrameSize.Width)
}

func TestDecodeLandmarks_NoFace(t *testing.T) {
	got, err := Decode([]byte(`{"type":"landmarks","data":{"points":null}}`))
	require.NoError(t, err)
	assert.False(t, got.(Landmarks).Frame.HasFace())
}

func TestDecodeAllLandmarks_MarksReference(t *testing.T) {
	raw := `{"type":"all_landmarks","landmarks":[{"points":[[0,0]]},{"points":[[1,1]],"kind":"live"}]}`

	got, err := Decode([]byte(raw))
	require.NoError(t, err)

	all := got.(AllLandmarks)
	require.Len(t, all.Frames, 2)
	assert.Equal(t, pub.KindReference, all.Frames[0].Kind)
	assert.Equal(t, pub.KindLive, all.Frames[1].Kind, "producer kind wins")
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{"type":`, ErrMalformed},
		{"missing type", `{"value":true}`, ErrMalformed},
		{"landmarks without data", `{"type":"landmarks"}`, ErrMalformed},
		{"play_reference without value", `{"type":"play_reference"}`, ErrMalformed},
		{"bad point", `{"type":"landmarks","data":{"points":[[1]]}}`, ErrMalformed},
		{"future type", `{"type":"calibration"}`, ErrUnknownType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDispatcher_DropsBadMessagesAndKeepsGoing(t *testing.T) {
	var got []Inbound
	d := NewDispatcher(HandlerFunc(func(m Inbound) { got = append(got, m) }), nil)

	assert.False(t, d.Dispatch([]byte(`garbage`)))
	assert.False(t, d.Dispatch([]byte(`{"type":"whatever"}`)))
	assert.True(t, d.Dispatch([]byte(`{"type":"reference_completed"}`)))
	assert.True(t, d.Dispatch([]byte(`{"type":"error","message":"x"}`)))

	assert.Equal(t, []Inbound{ReferenceCompleted{}, ServerError{Message: "x"}}, got)
	assert.EqualValues(t, 2, d.Dropped())
}

func TestOutboundShapes(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want string
	}{
		{"continuous frame", Frame("abc", false), `{"type":"frame","data":"abc"}`},
		{"single frame", Frame("abc", true), `{"type":"frame","data":"abc","singleFrame":true}`},
		{"toggle off", Toggle(false), `{"type":"toggle","value":false}`},
		{"request reference", PlayReference(true, true), `{"type":"play_reference","value":true,"playOnce":true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))
		})
	}
}
