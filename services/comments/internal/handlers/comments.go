package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/internal/platform/ratelimit"
	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

type createCommentRequest struct {
	Comment   string `json:"comment"`
	ParentID  *int64 `json:"parent_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserURL   string `json:"user_url,omitempty"`
}

type commentsResponse struct {
	Comments []store.Comment `json:"comments"`
}

type spamReportResponse struct {
	Comment store.Comment `json:"comment"`
	Created bool          `json:"created"`
}

func list(cs []store.Comment) commentsResponse {
	if cs == nil {
		cs = []store.Comment{}
	}
	return commentsResponse{Comments: cs}
}

// ListThreads handles GET /v1/targets/{content_type}/{object_pk}/comments
func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	t, ok, err := h.target(r, chi.URLParam(r, "content_type"), chi.URLParam(r, "object_pk"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		api.NotFound(w, api.CodeNotFound, "unknown target", requestID(r))
		return
	}
	limit, offset := page(r)
	threads, err := h.svc.Threads(r.Context(), service.ThreadsQuery{Target: t, Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(threads))
}

// CreateComment handles POST /v1/targets/{content_type}/{object_pk}/comments
func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	t, ok, err := h.target(r, chi.URLParam(r, "content_type"), chi.URLParam(r, "object_pk"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		api.Validation(w, store.ReasonBlockedContentType, "comments are not enabled for this target", requestID(r))
		return
	}

	var req createCommentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return
	}

	c, err := h.svc.Post(r.Context(), actor(r), service.PostInput{
		ContentTypeID: t.ContentTypeID,
		ObjectPK:      t.ObjectPK,
		ParentID:      req.ParentID,
		Content:       req.Comment,
		UserName:      req.UserName,
		UserEmail:     req.UserEmail,
		UserURL:       req.UserURL,
		IPAddress:     ratelimit.ByIP(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

// GetComment handles GET /v1/comments/{comment_id}
func (h *Handlers) GetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// GetReplies handles GET /v1/comments/{comment_id}/replies
func (h *Handlers) GetReplies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	replies, err := h.svc.Replies(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(replies))
}

// GetThread handles GET /v1/comments/{comment_id}/thread
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	thread, err := h.svc.Thread(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list(thread))
}

// ModerateFunc is one of the single-comment state changes of the service.
type ModerateFunc func(ctx context.Context, a service.Actor, id int64) (store.Comment, error)

// Moderate handles POST /v1/comments/{comment_id}/{open|close|approve|...}
func (h *Handlers) Moderate(fn ModerateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "comment_id")
		if !ok {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
			return
		}
		c, err := fn(r.Context(), actor(r), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, c)
	}
}

// DeleteComment handles DELETE /v1/comments/{comment_id}
func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	if _, err := h.svc.Delete(r.Context(), actor(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportSpam handles POST /v1/comments/{comment_id}/spam-reports
func (h *Handlers) ReportSpam(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.BadRequest(w, "MISSING_ID", "comment_id is required", requestID(r), nil)
		return
	}
	c, created, err := h.svc.ReportSpam(r.Context(), actor(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.WriteJSON(w, status, spamReportResponse{Comment: c, Created: created})
}
