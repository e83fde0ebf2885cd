// Package service is the comment engine's application layer: it validates
// submissions, enforces permissions, drives moderation and spam handling and
// runs the lifecycle hooks around the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/services/comments/internal/config"
	"github.com/example/threaded-comments/services/comments/internal/notify"
	"github.com/example/threaded-comments/services/comments/internal/render"
	"github.com/example/threaded-comments/services/comments/internal/spam"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

var (
	// ErrPermission is returned when the actor may not perform the action.
	ErrPermission = errors.New("permission denied")
	// ErrUnauthenticated is returned for anonymous writes.
	ErrUnauthenticated = errors.New("authentication required")
)

// PolicySource yields the policy in force.
type PolicySource interface {
	Current() config.Policy
}

// ContentTypes is the allow-list lookup.
type ContentTypes interface {
	IDs(ctx context.Context) ([]int64, error)
	Allowed(ctx context.Context, id int64) (bool, error)
}

type Options struct {
	Store        store.Store
	Policy       PolicySource
	ContentTypes ContentTypes
	Renderer     *render.Renderer
	Permissions  Permissions
	Spam         spam.Feedback
	Dispatcher   notify.Dispatcher
	Hooks        *Hooks
	Logger       *zap.Logger
	Now          func() time.Time
}

type Service struct {
	store    store.Store
	policy   PolicySource
	types    ContentTypes
	renderer *render.Renderer
	perms    Permissions
	spam     spam.Feedback
	dispatch notify.Dispatcher
	hooks    *Hooks
	log      *zap.Logger
	now      func() time.Time
}

func New(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		policy:   opts.Policy,
		types:    opts.ContentTypes,
		renderer: opts.Renderer,
		perms:    opts.Permissions,
		spam:     opts.Spam,
		dispatch: opts.Dispatcher,
		hooks:    opts.Hooks,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("service")
	if s.renderer == nil {
		s.renderer = render.New()
	}
	if s.perms == nil {
		s.perms = DefaultPermissions{}
	}
	if s.spam == nil {
		s.spam = spam.Nop{}
	}
	if s.hooks == nil {
		s.hooks = NewHooks(s.log)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.dispatch != nil {
		s.hooks.OnAfterCreate("notify", s.notifyCreated)
	}
	return s
}

// Hooks exposes the hook registry so callers can add their own.
func (s *Service) Hooks() *Hooks { return s.hooks }

// PostInput is a new comment as submitted by a user.
type PostInput struct {
	ContentTypeID int64
	ObjectPK      int64
	ParentID      *int64
	Content       string
	UserName      string
	UserEmail     string
	UserURL       string
	IPAddress     string
}

// Post validates, renders and stores a new comment, then fires the
// after-create hooks.
func (s *Service) Post(ctx context.Context, actor Actor, in PostInput) (store.Comment, error) {
	if !actor.Authenticated() {
		return store.Comment{}, ErrUnauthenticated
	}
	c, err := s.prepare(ctx, actor, in)
	if err == nil {
		err = s.hooks.runBefore(ctx, &c)
	}
	if err == nil {
		c, err = s.store.Insert(ctx, c)
	}
	if err != nil {
		s.observeRejection(c, err)
		return store.Comment{}, err
	}

	commentsCreated.Inc()
	s.log.Debug("comment posted", zap.Int64("comment_id", c.ID), zap.Int64("user_id", c.UserID))
	s.hooks.runAfter(ctx, c)
	return c, nil
}

func (s *Service) prepare(ctx context.Context, actor Actor, in PostInput) (store.Comment, error) {
	p := s.policy.Current()

	ok, err := s.types.Allowed(ctx, in.ContentTypeID)
	if err != nil {
		return store.Comment{}, err
	}
	if !ok {
		return store.Comment{}, store.Invalid(store.ReasonBlockedContentType, "comments are not enabled for this content type")
	}

	raw := strings.TrimSpace(in.Content)
	if utf8.RuneCountInString(raw) > p.CommentMaxLength {
		return store.Comment{}, store.Invalid(store.ReasonTooLong,
			fmt.Sprintf("comment is longer than %d characters", p.CommentMaxLength))
	}
	out, err := s.renderer.Render(raw)
	if err != nil {
		return store.Comment{}, err
	}
	if out.Empty() {
		return store.Comment{}, store.Invalid(store.ReasonEmpty, "comment is empty")
	}

	return store.Comment{
		ContentTypeID: in.ContentTypeID,
		ObjectPK:      in.ObjectPK,
		ParentID:      in.ParentID,
		UserID:        actor.UserID,
		UserName:      strings.TrimSpace(in.UserName),
		UserEmail:     strings.TrimSpace(in.UserEmail),
		UserURL:       strings.TrimSpace(in.UserURL),
		IPAddress:     in.IPAddress,
		SubmitDate:    s.now().UTC(),
		Comment:       out.HTML,
		CommentRaw:    raw,
		IsOpen:        true,
		IsApproved:    !p.Moderated,
		IsPublic:      true,
	}, nil
}

func (s *Service) observeRejection(c store.Comment, err error) {
	if ve, ok := store.IsValidation(err); ok {
		commentRejections.WithLabelValues(ve.Reason).Inc()
		return
	}
	if errors.Is(err, store.ErrIndexCollision) {
		s.log.Error("sibling index collision",
			zap.Int64("content_type_id", c.ContentTypeID),
			zap.Int64("object_pk", c.ObjectPK),
			zap.Int64p("parent_id", c.ParentID),
			zap.Error(err),
		)
	}
}

// notifyCreated is the after-create hook that starts notification fan-out.
// With spam filtering on it waits for MarkHam instead.
func (s *Service) notifyCreated(ctx context.Context, c store.Comment) error {
	if s.policy.Current().SpamFiltering {
		return nil
	}
	return s.dispatch.Dispatch(ctx, c)
}

// Reads

func (s *Service) publicFilter(ctx context.Context) (store.Filter, error) {
	ids, err := s.types.IDs(ctx)
	if err != nil {
		return store.Filter{}, err
	}
	return store.Filter{
		Visibility:          store.Current,
		AllowedContentTypes: ids,
		SpamChecked:         s.policy.Current().SpamFiltering,
		ExcludeRemoved:      true,
	}, nil
}

// ThreadsQuery pages through the threads of one target.
type ThreadsQuery struct {
	Target store.Target
	Limit  int
	Offset int
}

// Threads lists visible thread roots newest activity first, each with its
// latest replies attached.
func (s *Service) Threads(ctx context.Context, q ThreadsQuery) ([]store.Comment, error) {
	f, err := s.publicFilter(ctx)
	if err != nil {
		return nil, err
	}
	timer := prometheus.NewTimer(threadedQueryDuration)
	defer timer.ObserveDuration()
	return s.store.Threaded(ctx, store.ThreadQuery{
		Target:     q.Target,
		Filter:     f,
		ReplyLimit: s.policy.Current().ReplyLimit,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
}

// Get returns one visible comment.
func (s *Service) Get(ctx context.Context, id int64) (store.Comment, error) {
	f, err := s.publicFilter(ctx)
	if err != nil {
		return store.Comment{}, err
	}
	return s.store.Get(ctx, id, f)
}

// Replies lists every visible reply of a visible parent, oldest first.
func (s *Service) Replies(ctx context.Context, parentID int64) ([]store.Comment, error) {
	f, err := s.publicFilter(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, parentID, f); err != nil {
		return nil, err
	}
	return s.store.Replies(ctx, parentID, f)
}

// Thread returns the visible root and replies of the thread containing id.
func (s *Service) Thread(ctx context.Context, id int64) ([]store.Comment, error) {
	f, err := s.publicFilter(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Thread(ctx, id, f)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

// ModerationQuery lists comments in one moderation view.
type ModerationQuery struct {
	Visibility store.Visibility
	Target     store.Target
	Limit      int
	Offset     int
}

// ListModeration is the staff listing over any visibility.
func (s *Service) ListModeration(ctx context.Context, actor Actor, q ModerationQuery) ([]store.Comment, error) {
	if !s.perms.Can(ctx, ActionModerate, actor, store.Comment{}) {
		return nil, ErrPermission
	}
	ids, err := s.types.IDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, store.ListQuery{
		Target: q.Target,
		Filter: store.Filter{Visibility: q.Visibility, AllowedContentTypes: ids},
		Order:  store.OrderSortDate,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}
