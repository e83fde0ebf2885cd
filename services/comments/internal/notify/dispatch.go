package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tcc_notifications_total",
	Help: "Notifications handed to the deliverer, by result",
}, []string{"result"})

// Created is the payload of a comments.events.created event.
type Created struct {
	CommentID int64 `json:"comment_id"`
	RootID    int64 `json:"root_id"`
	UserID    int64 `json:"user_id"`
}

// Dispatcher starts fan-out for a comment that just became visible.
type Dispatcher interface {
	Dispatch(ctx context.Context, c store.Comment) error
}

// Direct runs the fan-out in the caller's goroutine.
type Direct struct {
	Notifier *Notifier
}

func (d Direct) Dispatch(ctx context.Context, c store.Comment) error {
	_, err := d.Notifier.Fanout(ctx, c)
	return err
}

// EventDispatcher hands the fan-out to the worker through JetStream.
type EventDispatcher struct {
	Pub *events.Publisher
}

func (d EventDispatcher) Dispatch(ctx context.Context, c store.Comment) error {
	ev, err := events.NewEvent("comment.created", Created{CommentID: c.ID, RootID: c.RootID(), UserID: c.UserID})
	if err != nil {
		return err
	}
	return d.Pub.Publish(ctx, events.SubjectCommentCreated, ev)
}
