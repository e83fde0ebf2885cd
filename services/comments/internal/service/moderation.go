package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/threaded-comments/services/comments/internal/store"
)

func flag(v bool) *bool { return &v }

func status(s store.SpamStatus) *store.SpamStatus { return &s }

var actionUpdates = map[Action]store.FlagUpdate{
	ActionOpen:       {IsOpen: flag(true)},
	ActionClose:      {IsOpen: flag(false)},
	ActionApprove:    {IsApproved: flag(true)},
	ActionDisapprove: {IsApproved: flag(false)},
	ActionRemove:     {IsRemoved: flag(true)},
	ActionRestore:    {IsRemoved: flag(false)},
}

var (
	spamUpdate = store.FlagUpdate{
		SpamStatus: status(store.SpamStatusSpam),
		IsSpam:     flag(true),
		IsChecked:  flag(true),
		IsRemoved:  flag(true),
	}
	hamUpdate = store.FlagUpdate{
		SpamStatus: status(store.SpamStatusHam),
		IsSpam:     flag(false),
		IsChecked:  flag(true),
		IsRemoved:  flag(false),
	}
)

// authorize loads the comment regardless of visibility and checks action on it.
func (s *Service) authorize(ctx context.Context, actor Actor, action Action, id int64) (store.Comment, error) {
	if !actor.Authenticated() {
		return store.Comment{}, ErrUnauthenticated
	}
	c, err := s.store.Get(ctx, id, store.NoFilter)
	if err != nil {
		return store.Comment{}, err
	}
	if !s.perms.Can(ctx, action, actor, c) {
		return store.Comment{}, ErrPermission
	}
	return c, nil
}

func (s *Service) moderate(ctx context.Context, actor Actor, action Action, id int64) (store.Comment, error) {
	if _, err := s.authorize(ctx, actor, action, id); err != nil {
		return store.Comment{}, err
	}
	out, err := s.store.Moderate(ctx, []int64{id}, actionUpdates[action])
	if err != nil {
		return store.Comment{}, err
	}
	if len(out) == 0 {
		return store.Comment{}, store.ErrNotFound
	}
	s.log.Info("comment moderated",
		zap.String("action", string(action)),
		zap.Int64("comment_id", id),
		zap.Int64("actor_id", actor.UserID),
	)
	return out[0], nil
}

// Open allows new replies.
func (s *Service) Open(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionOpen, id)
}

// Close blocks new replies.
func (s *Service) Close(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionClose, id)
}

func (s *Service) Approve(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionApprove, id)
}

func (s *Service) Disapprove(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionDisapprove, id)
}

// Remove hides the comment (soft delete).
func (s *Service) Remove(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionRemove, id)
}

func (s *Service) Restore(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	return s.moderate(ctx, actor, ActionRestore, id)
}

// Delete removes the comment and its replies for good.
func (s *Service) Delete(ctx context.Context, actor Actor, id int64) (store.Comment, error) {
	if _, err := s.authorize(ctx, actor, ActionDelete, id); err != nil {
		return store.Comment{}, err
	}
	c, err := s.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrIndexCollision) {
			s.log.Error("sibling index collision on delete", zap.Int64("comment_id", id), zap.Error(err))
		}
		return store.Comment{}, err
	}
	commentsDeleted.Add(float64(1 + c.ChildCount))
	s.log.Info("comment deleted",
		zap.Int64("comment_id", id),
		zap.Int("replies", c.ChildCount),
		zap.Int64("actor_id", actor.UserID),
	)
	return c, nil
}

// ReportSpam records the actor's spam flag. created is false when the actor
// had already reported the comment.
func (s *Service) ReportSpam(ctx context.Context, actor Actor, id int64) (c store.Comment, created bool, err error) {
	if _, err := s.authorize(ctx, actor, ActionReportSpam, id); err != nil {
		return store.Comment{}, false, err
	}
	return s.store.AddSpamReport(ctx, id, actor.UserID)
}

// MarkSpam flags comments as spam and removes them. Ids the actor may not
// touch fail the whole call; unknown ids are skipped.
func (s *Service) MarkSpam(ctx context.Context, actor Actor, ids []int64) ([]store.Comment, error) {
	if err := s.authorizeAll(ctx, actor, ActionMarkSpam, ids); err != nil {
		return nil, err
	}
	out, err := s.store.Moderate(ctx, ids, spamUpdate)
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		if err := s.spam.ReportSpam(ctx, c); err != nil {
			s.log.Warn("spam feedback failed", zap.Int64("comment_id", c.ID), zap.Error(err))
		}
	}
	return out, nil
}

// MarkHam clears the spam verdict, restores the comments and sends the
// notifications that spam filtering held back.
func (s *Service) MarkHam(ctx context.Context, actor Actor, ids []int64) ([]store.Comment, error) {
	if err := s.authorizeAll(ctx, actor, ActionMarkHam, ids); err != nil {
		return nil, err
	}
	out, err := s.store.Moderate(ctx, ids, hamUpdate)
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		if c.EmailSentAt == nil && s.dispatch != nil {
			if err := s.dispatch.Dispatch(ctx, c); err != nil {
				s.log.Warn("deferred notification failed", zap.Int64("comment_id", c.ID), zap.Error(err))
			}
		}
		if err := s.spam.ReportHam(ctx, c); err != nil {
			s.log.Warn("ham feedback failed", zap.Int64("comment_id", c.ID), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) authorizeAll(ctx context.Context, actor Actor, action Action, ids []int64) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	for _, id := range ids {
		_, err := s.authorize(ctx, actor, action, id)
		switch {
		case err == nil, errors.Is(err, store.ErrNotFound):
		default:
			return err
		}
	}
	return nil
}

// Subscriptions

// Subscribe follows the comment and re-enables notifications for its thread.
func (s *Service) Subscribe(ctx context.Context, actor Actor, id int64) (store.Subscription, error) {
	if !actor.Authenticated() {
		return store.Subscription{}, ErrUnauthenticated
	}
	return s.store.Subscribe(ctx, actor.UserID, id)
}

// Unsubscribe opts the actor out of notifications for the thread of id.
func (s *Service) Unsubscribe(ctx context.Context, actor Actor, id int64) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	return s.store.Unsubscribe(ctx, actor.UserID, id)
}

// MarkRead marks the actor's subscriptions on ids as read and returns how
// many changed.
func (s *Service) MarkRead(ctx context.Context, actor Actor, ids []int64) (int, error) {
	if !actor.Authenticated() {
		return 0, ErrUnauthenticated
	}
	return s.store.MarkRead(ctx, actor.UserID, ids, s.now())
}

func (s *Service) Subscriptions(ctx context.Context, actor Actor, unreadOnly bool) ([]store.Subscription, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return s.store.Subscriptions(ctx, actor.UserID, unreadOnly)
}
