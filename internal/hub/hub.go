// Package hub fans session output out to preview viewers.
package hub

import (
	"context"

	pub "github.com/DoyleJ11/landmark-client/pkg/types"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Join struct {
	ClientID string
	Outbox   chan Update // where this viewer wants to receive updates
}

type Leave struct{ ClientID string }

type GetState struct{ Reply chan View }

type ShutdownHub struct{}

type publish struct{ Update Update }

func (Join) isHubMsg()        {}
func (Leave) isHubMsg()       {}
func (GetState) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}
func (publish) isHubMsg()     {}

// Update is one overlay change or one alert. Version counts every update.
type Update struct {
	Version int
	Overlay *pub.Overlay
	Alert   string
}

type View struct {
	Version    int
	NumClients int
	Last       pub.Overlay
}

// Hub is the session's Renderer when viewers watch over the control API.
type Hub struct {
	inbox   chan HubMsg
	clients map[string]chan Update
	version int
	last    pub.Overlay
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		clients: make(map[string]chan Update),
		log:     log.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Render queues an overlay for every viewer.
func (h *Hub) Render(o pub.Overlay) {
	h.post(publish{Update: Update{Overlay: &o}})
}

// Alert queues a user-facing message for every viewer.
func (h *Hub) Alert(msg string) {
	h.post(publish{Update: Update{Alert: msg}})
}

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				// new viewers start from the current overlay
				h.clients[msg.ClientID] = msg.Outbox
				last := h.last
				msg.Outbox <- Update{Version: h.version, Overlay: &last}
				h.log.Debug("viewer joined", zap.String("client", msg.ClientID), zap.Int("clients", len(h.clients)))

			case Leave:
				delete(h.clients, msg.ClientID)

			case publish:
				h.version++
				up := msg.Update
				up.Version = h.version
				if up.Overlay != nil {
					h.last = *up.Overlay
				}
				h.broadcast(up)

			case GetState:
				msg.Reply <- View{
					Version:    h.version,
					NumClients: len(h.clients),
					Last:       h.last,
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.cancel()
}

func (h *Hub) broadcast(up Update) {
	for id, ch := range h.clients {
		select {
		case ch <- up:
		default:
			// slow viewer
			h.log.Info("dropping slow viewer", zap.String("client", id))
			close(ch)
			delete(h.clients, id)
		}
	}
}
