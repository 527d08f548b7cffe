package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/session"
	pub "github.com/DoyleJ11/landmark-client/pkg/types"
)

const replyTimeout = 2 * time.Second

func GetState(inbox chan<- session.Msg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan session.View, 1)
		select {
		case inbox <- session.GetState{Reply: reply}:
		case <-r.Context().Done():
			return
		}

		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, v)
		case <-time.After(replyTimeout):
			http.Error(w, "session not responding", http.StatusServiceUnavailable)
		}
	}
}

// Command posts a fixed session message. The mode change happens
// asynchronously; clients poll /state for the outcome.
func Command(inbox chan<- session.Msg, msg session.Msg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case inbox <- msg:
			w.WriteHeader(http.StatusAccepted)
		case <-r.Context().Done():
		}
	}
}

func SetViewport(inbox chan<- session.Msg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v pub.Viewport
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if v.Width < 0 || v.Height < 0 {
			http.Error(w, "width and height must be >= 0", http.StatusBadRequest)
			return
		}
		select {
		case inbox <- session.Layout{Viewport: v}:
			w.WriteHeader(http.StatusNoContent)
		case <-r.Context().Done():
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
