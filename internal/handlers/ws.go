package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/query"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4096
)

// fetchRequest is the only inbound frame a live client may send.
type fetchRequest struct {
	Action  string `json:"action"`
	SinceID uint64 `json:"since_id"`

	malformed bool
}

type historyFrame struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
}

type messageFrame struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// LiveMessages handles GET /ws/messages/{room}. Messages created in the
// room are pushed as they are stored; clients may request history with
// {"action":"fetch","since_id":N}.
func (h *Handler) LiveMessages(w http.ResponseWriter, r *http.Request) {
	rm, err := room.Validate(chi.URLParam(r, "room"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if h.hub == nil {
		h.Error(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("room", rm.String()).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(rm.String())
	defer sub.Cancel()

	logger := h.logger.With().Str("room", rm.String()).Logger()
	logger.Debug().Msg("live subscriber connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	// gorilla/websocket allows one reader and one writer; the reader
	// forwards requests here and only this goroutine writes.
	requests := make(chan fetchRequest)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

			// A frame that does not decode is answered, not fatal.
			var req fetchRequest
			if err := json.Unmarshal(data, &req); err != nil {
				logger.Debug().Err(err).Msg("malformed live request")
				req = fetchRequest{malformed: true}
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		var frame interface{}
		select {
		case <-ctx.Done():
			logger.Debug().Msg("live subscriber disconnected")
			return

		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			frame = messageFrame{Type: "message", Message: msg}

		case req := <-requests:
			frame = h.history(ctx, rm, req)

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (h *Handler) history(ctx context.Context, rm room.Room, req fetchRequest) interface{} {
	if req.malformed {
		return errorFrame{Type: "error", Error: "malformed request"}
	}
	if req.Action != "fetch" {
		return errorFrame{Type: "error", Error: "unknown action"}
	}

	since := req.SinceID
	msgs, err := h.svc.List(ctx, rm.String(), &query.Params{SinceID: &since})
	if err != nil {
		h.logger.Error().Err(err).Str("room", rm.String()).Msg("live history fetch failed")
		return errorFrame{Type: "error", Error: "internal error"}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return historyFrame{Type: "history", Messages: msgs}
}
