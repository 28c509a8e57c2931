package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/hub"
	"github.com/eldtechnologies/cipherroom/internal/messages"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc      *messages.Service
	hub      *hub.Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. hub may be nil, in which case the live
// feed endpoint answers 503.
func NewHandler(svc *messages.Service, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		hub:    h,
		logger: logger.With().Str("component", "handlers").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Messages are ciphertext; any origin holding the room key may read.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the message and live feed routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/messages", h.ListNoRoom)
	r.Get("/api/messages/{room}", h.ListMessages)
	r.Post("/api/messages/{room}", h.PostMessage)
	r.Get("/ws/messages/{room}", h.LiveMessages)
}
