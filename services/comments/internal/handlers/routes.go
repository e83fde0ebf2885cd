package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/threaded-comments/internal/platform/auth"
	"github.com/example/threaded-comments/internal/platform/ratelimit"
)

// ByUser keys the posting limiter on the authenticated user.
func ByUser(r *http.Request) string {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return ""
	}
	return "user:" + strconv.FormatInt(uid, 10)
}

// Register mounts the comment API: public reads, authenticated writes and
// the staff moderation queue. postLimit may be nil.
func (h *Handlers) Register(r chi.Router, verifier auth.JWTVerifier, postLimit *ratelimit.Limiter) {
	r.Get("/v1/targets/{content_type}/{object_pk}/comments", h.ListThreads)
	r.Get("/v1/comments/{comment_id}", h.GetComment)
	r.Get("/v1/comments/{comment_id}/replies", h.GetReplies)
	r.Get("/v1/comments/{comment_id}/thread", h.GetThread)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))

		r.Group(func(r chi.Router) {
			if postLimit != nil {
				r.Use(postLimit.Middleware(ByUser))
			}
			r.Post("/v1/targets/{content_type}/{object_pk}/comments", h.CreateComment)
		})

		r.Post("/v1/comments/{comment_id}/open", h.Moderate(h.svc.Open))
		r.Post("/v1/comments/{comment_id}/close", h.Moderate(h.svc.Close))
		r.Post("/v1/comments/{comment_id}/approve", h.Moderate(h.svc.Approve))
		r.Post("/v1/comments/{comment_id}/disapprove", h.Moderate(h.svc.Disapprove))
		r.Post("/v1/comments/{comment_id}/remove", h.Moderate(h.svc.Remove))
		r.Post("/v1/comments/{comment_id}/restore", h.Moderate(h.svc.Restore))
		r.Post("/v1/comments/{comment_id}/spam-reports", h.ReportSpam)
		r.Post("/v1/comments/{comment_id}/subscription", h.Subscribe)
		r.Delete("/v1/comments/{comment_id}/subscription", h.Unsubscribe)
		r.Delete("/v1/comments/{comment_id}", h.DeleteComment)

		r.Get("/v1/subscriptions", h.ListSubscriptions)
		r.Post("/v1/subscriptions/read", h.MarkRead)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireStaff)
			r.Get("/v1/moderation/comments", h.ListModeration)
			r.Post("/v1/moderation/spam", h.MarkSpam)
			r.Post("/v1/moderation/ham", h.MarkHam)
		})
	})
}
