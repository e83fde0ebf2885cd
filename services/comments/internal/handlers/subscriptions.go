package handlers

import (
	"net/http"
	"strconv"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

type subscriptionsResponse struct {
	Subscriptions []store.Subscription `json:"subscriptions"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

// Subscribe handles POST /v1/comments/{comment_id}/subscription
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	sub, err := h.svc.Subscribe(r.Context(), actor(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, sub)
}

// Unsubscribe handles DELETE /v1/comments/{comment_id}/subscription
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), actor(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /v1/subscriptions?unread=true
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	subs, err := h.svc.Subscriptions(r.Context(), actor(r), unread)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []store.Subscription{}
	}
	api.WriteJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: subs})
}

// MarkRead handles POST /v1/subscriptions/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkRead(r.Context(), actor(r), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, markReadResponse{Updated: n})
}
