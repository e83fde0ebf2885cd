package handlers

import (
	"net/http"
	"strings"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

// ListModeration handles GET /v1/moderation/comments?view=removed
// Optional content_type and object_pk narrow the listing to one target.
func (h *Handlers) ListModeration(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := store.ParseVisibility(q.Get("view"))
	if err != nil {
		api.BadRequest(w, "INVALID_VIEW", err.Error(), requestID(r), nil)
		return
	}

	var t store.Target
	if label := strings.TrimSpace(q.Get("content_type")); label != "" {
		var ok bool
		t, ok, err = h.target(r, label, q.Get("object_pk"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !ok {
			api.BadRequest(w, "INVALID_TARGET", "unknown content_type or object_pk", requestID(r), nil)
			return
		}
	}

	limit, offset := page(r)
	out, err := h.svc.ListModeration(r.Context(), actor(r), service.ModerationQuery{
		Visibility: view,
		Target:     t,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(out))
}

// MarkSpam handles POST /v1/moderation/spam
func (h *Handlers) MarkSpam(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	out, err := h.svc.MarkSpam(r.Context(), actor(r), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(out))
}

// MarkHam handles POST /v1/moderation/ham
func (h *Handlers) MarkHam(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	out, err := h.svc.MarkHam(r.Context(), actor(r), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(out))
}
