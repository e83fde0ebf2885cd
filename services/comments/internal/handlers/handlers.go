// Package handlers exposes the comment service over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/internal/platform/auth"
	"github.com/example/threaded-comments/internal/platform/httpserver"
	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Labels maps "app.model" labels from the URL to content type ids.
type Labels interface {
	ID(ctx context.Context, label string) (int64, bool, error)
}

type Handlers struct {
	svc    *service.Service
	labels Labels
	log    *zap.Logger
}

func New(svc *service.Service, labels Labels, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{svc: svc, labels: labels, log: log.Named("http")}
}

func actor(r *http.Request) service.Actor {
	uid, _ := auth.UserIDFromContext(r.Context())
	return service.Actor{UserID: uid, Staff: auth.IsStaff(r.Context())}
}

func requestID(r *http.Request) string {
	return httpserver.RequestIDFromContext(r.Context())
}

// writeError maps service and store errors onto the JSON error envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := requestID(r)
	if ve, ok := store.IsValidation(err); ok {
		api.Validation(w, ve.Reason, ve.Message, rid)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.NotFound(w, api.CodeNotFound, "comment not found", rid)
	case errors.Is(err, service.ErrPermission):
		api.Forbidden(w, api.CodeForbidden, "not allowed", rid)
	case errors.Is(err, service.ErrUnauthenticated):
		api.Unauthorized(w, api.CodeUnauthorized, "authentication required", rid)
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", rid),
			zap.Error(err),
		)
		api.Internal(w, rid)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	return id, err == nil && id > 0
}

// page reads limit and offset, clamping limit to [1, maxLimit].
func page(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxLimit)
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		offset = o
	}
	return limit, offset
}

// target resolves {content_type}/{object_pk}. ok is false when the label is
// unknown or the pk malformed; err is a resolver failure.
func (h *Handlers) target(r *http.Request, label, pk string) (store.Target, bool, error) {
	objectPK, perr := strconv.ParseInt(strings.TrimSpace(pk), 10, 64)
	if perr != nil || objectPK <= 0 {
		return store.Target{}, false, nil
	}
	ct, ok, err := h.labels.ID(r.Context(), label)
	if err != nil || !ok {
		return store.Target{}, false, err
	}
	return store.Target{ContentTypeID: ct, ObjectPK: objectPK}, true, nil
}

type idsRequest struct {
	CommentIDs []int64 `json:"comment_ids"`
}

func decodeIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req idsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", requestID(r), nil)
		return nil, false
	}
	if len(req.CommentIDs) == 0 {
		api.BadRequest(w, "MISSING_ID", "comment_ids must not be empty", requestID(r), nil)
		return nil, false
	}
	return req.CommentIDs, true
}
