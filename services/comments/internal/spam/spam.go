// Package spam forwards moderator verdicts to the external spam classifier.
package spam

import (
	"context"
	"fmt"

	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

// Feedback receives verdicts made by moderators.
type Feedback interface {
	ReportSpam(ctx context.Context, c store.Comment) error
	ReportHam(ctx context.Context, c store.Comment) error
}

// Nop drops all feedback.
type Nop struct{}

func (Nop) ReportSpam(context.Context, store.Comment) error { return nil }
func (Nop) ReportHam(context.Context, store.Comment) error  { return nil }

// Verdict is the payload published for the classifier.
type Verdict struct {
	CommentID     int64  `json:"comment_id"`
	ContentTypeID int64  `json:"content_type_id"`
	ObjectPK      int64  `json:"object_pk"`
	UserID        int64  `json:"user_id"`
	UserName      string `json:"user_name,omitempty"`
	UserEmail     string `json:"user_email,omitempty"`
	UserURL       string `json:"user_url,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
	Content       string `json:"content"`
	Spam          bool   `json:"spam"`
}

func verdict(c store.Comment, spam bool) Verdict {
	return Verdict{
		CommentID:     c.ID,
		ContentTypeID: c.ContentTypeID,
		ObjectPK:      c.ObjectPK,
		UserID:        c.UserID,
		UserName:      c.UserName,
		UserEmail:     c.UserEmail,
		UserURL:       c.UserURL,
		IPAddress:     c.IPAddress,
		Content:       c.CommentRaw,
		Spam:          spam,
	}
}

// Publisher sends verdicts over JetStream for the classifier bridge to pick up.
type Publisher struct {
	pub *events.Publisher
}

func NewPublisher(pub *events.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) ReportSpam(ctx context.Context, c store.Comment) error {
	return p.send(ctx, events.SubjectSpamReported, "spam.reported", verdict(c, true))
}

func (p *Publisher) ReportHam(ctx context.Context, c store.Comment) error {
	return p.send(ctx, events.SubjectSpamCleared, "spam.cleared", verdict(c, false))
}

func (p *Publisher) send(ctx context.Context, subject, typ string, v Verdict) error {
	ev, err := events.NewEvent(typ, v)
	if err != nil {
		return err
	}
	if err := p.pub.Publish(ctx, subject, ev); err != nil {
		return fmt.Errorf("spam feedback for comment %d: %w", v.CommentID, err)
	}
	return nil
}
