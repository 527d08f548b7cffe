package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/landmark-client/internal/hub"
	"github.com/DoyleJ11/landmark-client/internal/session"
	"github.com/DoyleJ11/landmark-client/internal/ws"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func SetupRoutes(inbox chan<- session.Msg, h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/state", GetState(inbox))

	r.Post("/live", Command(inbox, session.EnableLive{}))
	r.Delete("/live", Command(inbox, session.DisableLive{}))
	r.Post("/reference", Command(inbox, session.RequestReference{}))
	r.Delete("/reference", Command(inbox, session.StopReference{}))
	r.Put("/viewport", SetViewport(inbox))

	r.Get("/preview", ws.Handler(h, inbox, log))
	return r
}
