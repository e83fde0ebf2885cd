// Package notify tells thread participants about new replies.
package notify

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

// PreviewLength is the number of runes of the comment quoted in a notification.
const PreviewLength = 100

// Notification is one message to one recipient.
type Notification struct {
	RecipientID   int64     `json:"recipient_id"`
	CommentID     int64     `json:"comment_id"`
	RootID        int64     `json:"root_id"`
	ContentTypeID int64     `json:"content_type_id"`
	ObjectPK      int64     `json:"object_pk"`
	AuthorID      int64     `json:"author_id"`
	AuthorName    string    `json:"author_name,omitempty"`
	Preview       string    `json:"preview"`
	SubmitDate    time.Time `json:"submit_date"`
}

// Deliverer hands a notification to the outside world (mail, push, ...).
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogDeliverer only logs; used when no transport is configured.
type LogDeliverer struct {
	Log *zap.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, n Notification) error {
	d.Log.Info("notification",
		zap.Int64("recipient_id", n.RecipientID),
		zap.Int64("comment_id", n.CommentID),
		zap.String("preview", n.Preview),
	)
	return nil
}

// EventDeliverer publishes each notification on JetStream for the mailer.
type EventDeliverer struct {
	Pub *events.Publisher
}

func (d EventDeliverer) Deliver(ctx context.Context, n Notification) error {
	ev, err := events.NewEvent("notification", n)
	if err != nil {
		return err
	}
	return d.Pub.Publish(ctx, events.SubjectNotification, ev)
}

// Store is what fan-out needs from persistence.
type Store interface {
	ThreadParticipants(ctx context.Context, id int64, limit int) ([]int64, error)
	Unsubscribed(ctx context.Context, commentID int64) ([]int64, error)
	EnsureSubscriptions(ctx context.Context, commentID int64, userIDs []int64) error
	MarkNotified(ctx context.Context, id int64, at time.Time) error
}

// Notifier computes recipients for a new comment and delivers to them.
type Notifier struct {
	store   Store
	deliver Deliverer
	limits  store.LimitsFunc
	log     *zap.Logger
	now     func() time.Time
}

func New(s Store, d Deliverer, limits store.LimitsFunc, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	if limits == nil {
		limits = store.Static(store.DefaultLimits())
	}
	return &Notifier{store: s, deliver: d, limits: limits, log: log.Named("notify"), now: time.Now}
}

// Recipients lists the users to notify about c: authors of the first
// MaxReplies+1 comments of the thread, minus c's author and anyone who
// unsubscribed from the thread.
func (n *Notifier) Recipients(ctx context.Context, c store.Comment) ([]int64, error) {
	participants, err := n.store.ThreadParticipants(ctx, c.ID, n.limits().MaxReplies+1)
	if err != nil {
		return nil, fmt.Errorf("thread participants: %w", err)
	}
	opted, err := n.store.Unsubscribed(ctx, c.RootID())
	if err != nil {
		return nil, fmt.Errorf("unsubscribers: %w", err)
	}
	out := participants[:0]
	for _, uid := range participants {
		if uid == c.UserID || slices.Contains(opted, uid) {
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

// Fanout subscribes and notifies everyone interested in c, then stamps
// email_sent_at. Individual delivery failures are logged and counted, not
// returned.
func (n *Notifier) Fanout(ctx context.Context, c store.Comment) (delivered int, err error) {
	recipients, err := n.Recipients(ctx, c)
	if err != nil {
		return 0, err
	}
	subscribers := recipients
	if c.UserID != 0 {
		subscribers = append(slices.Clone(recipients), c.UserID)
	}
	if err := n.store.EnsureSubscriptions(ctx, c.ID, subscribers); err != nil {
		return 0, fmt.Errorf("ensure subscriptions: %w", err)
	}

	preview := c.Preview(PreviewLength)
	for _, uid := range recipients {
		msg := Notification{
			RecipientID:   uid,
			CommentID:     c.ID,
			RootID:        c.RootID(),
			ContentTypeID: c.ContentTypeID,
			ObjectPK:      c.ObjectPK,
			AuthorID:      c.UserID,
			AuthorName:    c.UserName,
			Preview:       preview,
			SubmitDate:    c.SubmitDate,
		}
		if err := n.deliver.Deliver(ctx, msg); err != nil {
			notificationsTotal.WithLabelValues("failed").Inc()
			n.log.Warn("delivery failed",
				zap.Int64("comment_id", c.ID),
				zap.Int64("recipient_id", uid),
				zap.Error(err),
			)
			continue
		}
		notificationsTotal.WithLabelValues("delivered").Inc()
		delivered++
	}

	if err := n.store.MarkNotified(ctx, c.ID, n.now()); err != nil {
		return delivered, fmt.Errorf("mark notified: %w", err)
	}
	n.log.Debug("fan-out done",
		zap.Int64("comment_id", c.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", delivered),
	)
	return delivered, nil
}
