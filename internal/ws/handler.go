// Package ws serves the local preview stream: viewers receive overlay and
// alert updates and may send mode commands back.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/hub"
	"github.com/DoyleJ11/landmark-client/internal/session"
	"github.com/DoyleJ11/landmark-client/internal/types"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func Handler(h *hub.Hub, inbox chan<- session.Msg, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("preview")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan hub.Update, 8)
		clientID := uuid.NewString()

		h.Inbox() <- hub.Join{ClientID: clientID, Outbox: out}
		defer func() {
			select {
			case h.Inbox() <- hub.Leave{ClientID: clientID}:
			case <-time.After(time.Second):
			}
		}()
		log.Info("viewer connected", zap.String("client", clientID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				var up hub.Update
				var ok bool
				select {
				case up, ok = <-out:
				case <-writeCtx.Done():
					return
				}
				if !ok {
					// the hub dropped us
					conn.Close(websocket.StatusPolicyViolation, "too slow")
					return
				}
				msg := types.PreviewMessage{Type: types.TypeOverlay, Version: up.Version, Overlay: up.Overlay}
				if up.Overlay == nil {
					msg = types.PreviewMessage{Type: types.TypeAlert, Version: up.Version, Message: up.Alert}
				}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				err := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("viewer read ended", zap.String("client", clientID), zap.Error(err))
				}
				return
			}

			var vm types.ViewerMessage
			if err := json.Unmarshal(data, &vm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			msg, ok := toSessionMsg(vm)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}

			select {
			case inbox <- msg:
			case <-r.Context().Done():
				return
			}
		}
	}
}

func toSessionMsg(m types.ViewerMessage) (session.Msg, bool) {
	switch m.Type {
	case types.TypeViewerLive:
		if m.Value {
			return session.EnableLive{}, true
		}
		return session.DisableLive{}, true
	case types.TypeViewerReference:
		if m.Value {
			return session.RequestReference{}, true
		}
		return session.StopReference{}, true
	case types.TypeViewerViewport:
		if m.Width < 0 || m.Height < 0 {
			return nil, false
		}
		return session.Layout{Viewport: pub.Viewport{Width: m.Width, Height: m.Height}}, true
	default:
		return nil, false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.PreviewMessage{Type: types.TypeError, Message: msg})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
