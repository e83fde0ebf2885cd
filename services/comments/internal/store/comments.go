package store

import (
	"context"
	"time"
	"unicode/utf8"
)

// SpamStatus is the classifier verdict for a comment. A nil *SpamStatus on a
// Comment means the comment has not been classified yet.
type SpamStatus int16

const (
	SpamStatusSpam SpamStatus = 1
	SpamStatusHam  SpamStatus = 2
)

func (s SpamStatus) String() string {
	switch s {
	case SpamStatusSpam:
		return "spam"
	case SpamStatusHam:
		return "ham"
	default:
		return "unknown"
	}
}

// Target identifies the external entity a comment is attached to.
type Target struct {
	ContentTypeID int64 `json:"content_type_id"`
	ObjectPK      int64 `json:"object_pk"`
}

// IsZero reports whether no target was set.
func (t Target) IsZero() bool { return t.ContentTypeID == 0 && t.ObjectPK == 0 }

// Comment is a single row of the comment table. Replies is only populated by
// threaded reads.
type Comment struct {
	ID            int64  `json:"id"`
	ContentTypeID int64  `json:"content_type_id"`
	ObjectPK      int64  `json:"object_pk"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	UserID        int64  `json:"user_id"`

	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"-"`
	UserURL   string `json:"user_url,omitempty"`
	IPAddress string `json:"-"`

	SubmitDate time.Time `json:"submit_date"`
	SortDate   time.Time `json:"sort_date"`

	Comment    string `json:"comment"`
	CommentRaw string `json:"comment_raw"`

	IsOpen          bool        `json:"is_open"`
	IsRemoved       bool        `json:"is_removed"`
	IsApproved      bool        `json:"is_approved"`
	IsPublic        bool        `json:"is_public"`
	IsSpam          bool        `json:"is_spam"`
	IsChecked       bool        `json:"is_checked"`
	SpamStatus      *SpamStatus `json:"spam_status,omitempty"`
	SpamReportCount int         `json:"spam_report_count"`
	EmailSentAt     *time.Time  `json:"email_sent_at,omitempty"`

	ChildCount int `json:"child_count"`
	Index      int `json:"index"`

	Replies []Comment `json:"replies,omitempty"`
}

// Target returns the (content type, object) pair of the comment.
func (c Comment) Target() Target {
	return Target{ContentTypeID: c.ContentTypeID, ObjectPK: c.ObjectPK}
}

// Depth is 0 for thread roots and 1 for replies.
func (c Comment) Depth() int {
	if c.ParentID != nil {
		return 1
	}
	return 0
}

// RootID is the id of the thread root the comment belongs to.
func (c Comment) RootID() int64 {
	if c.ParentID != nil {
		return *c.ParentID
	}
	return c.ID
}

// ReplyAllowed reports whether a new reply may be attached to c.
func (c Comment) ReplyAllowed(l Limits) bool {
	return c.IsOpen && c.ChildCount < l.MaxReplies && c.Depth() < l.MaxDepth-1
}

// Preview returns the raw content cut to at most n runes, ending in "..."
// when it was shortened.
func (c Comment) Preview(n int) string {
	if utf8.RuneCountInString(c.CommentRaw) <= n {
		return c.CommentRaw
	}
	if n <= 3 {
		return string([]rune(c.CommentRaw)[:n])
	}
	return string([]rune(c.CommentRaw)[:n-3]) + "..."
}

// Limits bounds the reply tree and the duplicate-submission guard.
type Limits struct {
	MaxReplies      int
	MaxDepth        int
	DuplicateWindow time.Duration
}

// DefaultLimits mirrors the shipped policy defaults.
func DefaultLimits() Limits {
	return Limits{MaxReplies: 100, MaxDepth: 2, DuplicateWindow: 2 * time.Minute}
}

// Subscription records that a user follows a comment and when they last read it.
type Subscription struct {
	UserID    int64      `json:"user_id"`
	CommentID int64      `json:"comment_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Read reports whether the subscriber has seen the comment.
func (s Subscription) Read() bool { return s.ReadAt != nil }

// SpamReport is one user's spam flag on a comment.
type SpamReport struct {
	UserID    int64 `json:"user_id"`
	CommentID int64 `json:"comment_id"`
}

// FlagUpdate describes a bulk moderation change; nil fields are left untouched.
type FlagUpdate struct {
	IsOpen     *bool
	IsRemoved  *bool
	IsApproved *bool
	IsPublic   *bool
	IsSpam     *bool
	IsChecked  *bool
	SpamStatus *SpamStatus
}

// Empty reports whether the update changes nothing.
func (u FlagUpdate) Empty() bool {
	return u.IsOpen == nil && u.IsRemoved == nil && u.IsApproved == nil &&
		u.IsPublic == nil && u.IsSpam == nil && u.IsChecked == nil && u.SpamStatus == nil
}

func (u FlagUpdate) apply(c *Comment) {
	if u.IsOpen != nil {
		c.IsOpen = *u.IsOpen
	}
	if u.IsRemoved != nil {
		c.IsRemoved = *u.IsRemoved
	}
	if u.IsApproved != nil {
		c.IsApproved = *u.IsApproved
	}
	if u.IsPublic != nil {
		c.IsPublic = *u.IsPublic
	}
	if u.IsSpam != nil {
		c.IsSpam = *u.IsSpam
	}
	if u.IsChecked != nil {
		c.IsChecked = *u.IsChecked
	}
	if u.SpamStatus != nil {
		s := *u.SpamStatus
		c.SpamStatus = &s
	}
}

// Order selects the listing order.
type Order string

const (
	// OrderSortDate lists threads by most recent activity first.
	OrderSortDate Order = "sort_date"
	// OrderIndex lists siblings in insertion order.
	OrderIndex Order = "index"
)

// ListQuery is a flat, filtered listing.
type ListQuery struct {
	Target   Target
	ParentID *int64
	RootOnly bool
	Filter   Filter
	Order    Order
	Limit    int
	Offset   int
}

// ThreadQuery is a threaded listing: roots of a target with their newest
// ReplyLimit replies attached.
type ThreadQuery struct {
	Target     Target
	Filter     Filter
	ReplyLimit int
	Limit      int
	Offset     int
}

// IndexViolation describes a sibling group whose indices are not dense or whose
// parent counter disagrees with the live replies.
type IndexViolation struct {
	Target     Target `json:"target"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	ChildCount int    `json:"child_count"`
	Indices    []int  `json:"indices"`
}

// CommentStore is the durable comment storage with index and counter maintenance.
type CommentStore interface {
	Insert(ctx context.Context, c Comment) (Comment, error)
	Delete(ctx context.Context, id int64) (Comment, error)
	Get(ctx context.Context, id int64, f Filter) (Comment, error)
	List(ctx context.Context, q ListQuery) ([]Comment, error)
	Threaded(ctx context.Context, q ThreadQuery) ([]Comment, error)
	Replies(ctx context.Context, parentID int64, f Filter) ([]Comment, error)
	Thread(ctx context.Context, id int64, f Filter) ([]Comment, error)
	Moderate(ctx context.Context, ids []int64, u FlagUpdate) ([]Comment, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	ThreadParticipants(ctx context.Context, id int64, limit int) ([]int64, error)
	VerifyIndexes(ctx context.Context) ([]IndexViolation, error)
}

// SubscriptionStore tracks per-user read state and thread opt-outs.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, userID, commentID int64) (Subscription, error)
	Unsubscribe(ctx context.Context, userID, commentID int64) error
	EnsureSubscriptions(ctx context.Context, commentID int64, userIDs []int64) error
	MarkRead(ctx context.Context, userID int64, commentIDs []int64, at time.Time) (int, error)
	Subscriptions(ctx context.Context, userID int64, unreadOnly bool) ([]Subscription, error)
	Unsubscribed(ctx context.Context, commentID int64) ([]int64, error)
}

// SpamReportStore records spam flags.
type SpamReportStore interface {
	// AddSpamReport returns created=false when the user already reported the comment.
	AddSpamReport(ctx context.Context, commentID, userID int64) (c Comment, created bool, err error)
	SpamReports(ctx context.Context, commentID int64) ([]SpamReport, error)
}

// Store is the full persistence contract used by the service layer.
type Store interface {
	CommentStore
	SubscriptionStore
	SpamReportStore
}
