// Package worker consumes comment events from JetStream and runs the
// notification fan-out outside the request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/services/comments/internal/idempotency"
	"github.com/example/threaded-comments/services/comments/internal/notify"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

const durableName = "comments_fanout"

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tcc_worker_messages_total",
	Help: "Comment events handled by the fan-out worker, by result",
}, []string{"result"})

// Comments loads the comment an event refers to.
type Comments interface {
	Get(ctx context.Context, id int64, f store.Filter) (store.Comment, error)
}

// Fanout notifies the participants of a thread.
type Fanout interface {
	Fanout(ctx context.Context, c store.Comment) (int, error)
}

// delivery is the part of *nats.Msg the handler acknowledges through.
type delivery interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

type deadLetters interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Worker struct {
	Log      *zap.Logger
	JS       nats.JetStreamContext
	Comments Comments
	Notifier Fanout
	Seen     idempotency.Store

	MaxDeliver int
	BatchSize  int
	MaxWait    time.Duration

	dlq deadLetters
}

func New(log *zap.Logger, js nats.JetStreamContext, comments Comments, notifier Fanout, seen idempotency.Store) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Log:        log.Named("worker"),
		JS:         js,
		Comments:   comments,
		Notifier:   notifier,
		Seen:       seen,
		MaxDeliver: 5,
		BatchSize:  10,
		MaxWait:    2 * time.Second,
		dlq:        js,
	}
}

// Run pulls comments.events.created until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.JS.PullSubscribe(events.SubjectCommentCreated, durableName, nats.ManualAck())
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	w.Log.Info("consumer started", zap.String("subject", events.SubjectCommentCreated))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(w.BatchSize, nats.MaxWait(w.MaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, m := range msgs {
			_ = w.handleMsg(ctx, m, m.Data)
		}
	}
}

func (w *Worker) handleMsg(ctx context.Context, m delivery, data []byte) error {
	md, _ := m.Metadata()
	numDelivered := uint64(1)
	if md != nil {
		numDelivered = md.NumDelivered
	}

	if w.MaxDeliver > 0 && int(numDelivered) > w.MaxDeliver {
		if err := w.publishDLQ(data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered)); err != nil {
			w.Log.Error("dead letter publish failed", zap.Error(err))
		}
		messagesTotal.WithLabelValues("dead_letter").Inc()
		_ = m.Ack()
		return nil
	}

	ev, err := events.Decode(data)
	var created notify.Created
	if err == nil {
		err = ev.Into(&created)
	}
	if err == nil && created.CommentID <= 0 {
		err = errors.New("missing comment_id")
	}
	if err != nil {
		w.Log.Warn("bad payload", zap.Error(err))
		messagesTotal.WithLabelValues("invalid").Inc()
		_ = m.Ack()
		return nil
	}

	dup, err := w.Seen.Check(ctx, ev.ID)
	if err != nil {
		w.Log.Warn("idempotency check failed", zap.String("event_id", ev.ID), zap.Error(err))
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return err
	}
	if dup {
		messagesTotal.WithLabelValues("duplicate").Inc()
		_ = m.Ack()
		return nil
	}

	if err := w.fanout(ctx, created.CommentID); err != nil {
		if rerr := w.Seen.Release(ctx, ev.ID); rerr != nil {
			w.Log.Warn("idempotency release failed", zap.String("event_id", ev.ID), zap.Error(rerr))
		}
		w.Log.Warn("fan-out failed",
			zap.Int64("comment_id", created.CommentID),
			zap.Uint64("attempt", numDelivered),
			zap.Error(err),
		)
		messagesTotal.WithLabelValues("retry").Inc()
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return err
	}
	_ = m.Ack()
	return nil
}

func (w *Worker) fanout(ctx context.Context, id int64) error {
	c, err := w.Comments.Get(ctx, id, store.NoFilter)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted before we got to it.
		messagesTotal.WithLabelValues("gone").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if c.EmailSentAt != nil {
		messagesTotal.WithLabelValues("already_sent").Inc()
		return nil
	}
	n, err := w.Notifier.Fanout(ctx, c)
	if err != nil {
		return err
	}
	messagesTotal.WithLabelValues("ok").Inc()
	w.Log.Info("fan-out done", zap.Int64("comment_id", id), zap.Int("delivered", n))
	return nil
}

func (w *Worker) publishDLQ(data []byte, reason string) error {
	if w.dlq == nil {
		return nil
	}
	var payload any = json.RawMessage(data)
	if !json.Valid(data) {
		payload = string(data)
	}
	msg := map[string]any{"subject": events.SubjectCommentCreated, "reason": reason, "payload": payload}
	b, _ := json.Marshal(msg)
	_, err := w.dlq.Publish(events.SubjectDeadLetter, b)
	return err
}
