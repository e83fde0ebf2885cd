package service

import (
	"context"

	"github.com/example/threaded-comments/services/comments/internal/store"
)

// Action is a guarded operation on an existing comment.
type Action string

const (
	ActionOpen       Action = "open"
	ActionClose      Action = "close"
	ActionApprove    Action = "approve"
	ActionDisapprove Action = "disapprove"
	ActionRemove     Action = "remove"
	ActionRestore    Action = "restore"
	ActionReportSpam Action = "report_spam"
	ActionMarkSpam   Action = "mark_spam"
	ActionMarkHam    Action = "mark_ham"
	ActionDelete     Action = "delete"
	ActionModerate   Action = "moderate"
)

// Actor is the user performing an operation.
type Actor struct {
	UserID int64
	Staff  bool
}

// Authenticated reports whether a user is logged in.
func (a Actor) Authenticated() bool { return a.UserID > 0 }

// Permissions decides whether actor may perform action on c.
type Permissions interface {
	Can(ctx context.Context, action Action, actor Actor, c store.Comment) bool
}

// ProfileTypeFunc resolves the content type whose object_pk is a user id.
type ProfileTypeFunc func(ctx context.Context) (int64, bool)

// DefaultPermissions: authors manage their own comments, profile owners may
// remove comments left on their profile, staff may do anything and every
// logged in user may report spam.
type DefaultPermissions struct {
	ProfileType ProfileTypeFunc
}

func (p DefaultPermissions) Can(ctx context.Context, action Action, actor Actor, c store.Comment) bool {
	if !actor.Authenticated() {
		return false
	}
	if actor.Staff {
		return true
	}
	own := c.UserID == actor.UserID
	switch action {
	case ActionReportSpam:
		return true
	case ActionOpen, ActionClose, ActionApprove, ActionDisapprove, ActionRestore:
		return own
	case ActionRemove, ActionMarkSpam:
		return own || p.onOwnProfile(ctx, actor, c)
	}
	return false
}

func (p DefaultPermissions) onOwnProfile(ctx context.Context, actor Actor, c store.Comment) bool {
	if p.ProfileType == nil {
		return false
	}
	id, ok := p.ProfileType(ctx)
	return ok && c.ContentTypeID == id && c.ObjectPK == actor.UserID
}
