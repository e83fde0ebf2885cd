package store

import (
	"time"
)

// LimitsFunc returns the limits in force for the next write. It is consulted
// on every insert so that policy reloads apply without restarting the store.
type LimitsFunc func() Limits

// Static pins a fixed set of limits.
func Static(l Limits) LimitsFunc {
	return func() Limits { return l }
}

func (f LimitsFunc) get() Limits {
	if f == nil {
		return DefaultLimits()
	}
	return f()
}

// checkReply validates a new reply against its (locked) parent.
func checkReply(parent Comment, l Limits) error {
	switch {
	case !parent.IsOpen:
		return Invalid(ReasonClosed, "replies are closed for this comment")
	case parent.Depth() >= l.MaxDepth-1:
		return Invalid(ReasonMaxDepth, "maximum reply depth reached")
	case parent.ChildCount >= l.MaxReplies:
		return Invalid(ReasonReplyLimit, "maximum number of replies reached")
	}
	return nil
}

func checkParentTarget(parent Comment, c Comment) error {
	if parent.Target() != c.Target() {
		return Invalid(ReasonInvalidParent, "parent comment belongs to another object")
	}
	return nil
}

// duplicateSince is the earliest submit date that still counts as a duplicate
// of a submission made at t.
func duplicateSince(t time.Time, window time.Duration) time.Time {
	return t.Add(-window)
}

func isDuplicate(prev, c Comment, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return prev.UserID == c.UserID &&
		prev.CommentRaw == c.CommentRaw &&
		prev.SubmitDate.After(duplicateSince(c.SubmitDate, window)) &&
		!prev.SubmitDate.After(c.SubmitDate)
}

var errDuplicate = Invalid(ReasonDuplicate, "you just posted the exact same content")
