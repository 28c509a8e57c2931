package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/cipherroom/internal/messages"
	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/query"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

// postMessageRequest mirrors models.NewMessage with every field required.
type postMessageRequest struct {
	User    *string `json:"user"`
	UserIV  *string `json:"user_iv"`
	Content *string `json:"content"`
	IV      *string `json:"iv"`
}

// ListMessages handles GET /api/messages/{room}.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")

	msgs, err := h.svc.List(r.Context(), roomID, query.ParseParams(r.URL.Query()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.JSON(w, http.StatusOK, msgs)
}

// ListNoRoom handles GET /api/messages without a room.
func (h *Handler) ListNoRoom(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, []models.Message{})
}

// PostMessage handles POST /api/messages/{room}.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")

	in, status, err := decodeNewMessage(r.Body)
	if err != nil {
		h.Error(w, status, err.Error())
		return
	}

	msg, err := h.svc.Create(r.Context(), roomID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

// decodeNewMessage reads exactly one JSON object with all four fields
// and nothing else.
func decodeNewMessage(body io.Reader) (models.NewMessage, int, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var req postMessageRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.NewMessage{}, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return models.NewMessage{}, http.StatusBadRequest, errors.New("invalid JSON body")
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.NewMessage{}, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return models.NewMessage{}, http.StatusBadRequest, errors.New("unexpected data after JSON body")
	}

	if req.User == nil || req.UserIV == nil || req.Content == nil || req.IV == nil {
		return models.NewMessage{}, http.StatusBadRequest, errors.New("user, user_iv, content and iv are required")
	}

	return models.NewMessage{
		User:    *req.User,
		UserIV:  *req.UserIV,
		Content: *req.Content,
		IV:      *req.IV,
	}, 0, nil
}

// fail maps service errors onto responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrInvalidRoom):
		h.Error(w, http.StatusBadRequest, "invalid room id")
	case errors.Is(err, messages.ErrPayloadRejected):
		h.Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, messages.ErrMalformedCiphertext):
		h.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
