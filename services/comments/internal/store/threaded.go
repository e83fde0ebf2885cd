package store

import (
	"strconv"
	"strings"
	"time"
)

// Dialect picks the placeholder syntax of the generated SQL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

const commentTable = "tcc_comment"

// commentColumns is the column order used by every SELECT and scan helper.
var commentColumns = []string{
	"id", "content_type_id", "object_pk", "parent_id", "user_id",
	"user_name", "user_email", "user_url", "ip_address",
	"submit_date", "sort_date", "comment", "comment_raw",
	"is_open", "is_removed", "is_approved", "is_public", "is_spam", "is_checked",
	"spam_status", "spam_report_count", "email_sent_at",
	"child_count", "index",
}

type sqlArgs struct {
	dialect Dialect
	args    []any
}

func (a *sqlArgs) add(v any) string {
	a.args = append(a.args, v)
	if a.dialect == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(len(a.args))
}

func (a *sqlArgs) list(ids []int64) string {
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = a.add(id)
	}
	return strings.Join(ph, ", ")
}

func quoteIdent(s string) string { return `"` + s + `"` }

// selectList renders the comment columns of alias, optionally renaming each
// column to prefix+column.
func selectList(alias, prefix string) string {
	parts := make([]string, len(commentColumns))
	for i, col := range commentColumns {
		p := alias + "." + quoteIdent(col)
		if prefix != "" {
			p += " AS " + quoteIdent(prefix+col)
		}
		parts[i] = p
	}
	return strings.Join(parts, ", ")
}

func slotAlias(n int) string { return "sub_" + strconv.Itoa(n) }

func writeWhere(sb *strings.Builder, preds []string) {
	if len(preds) == 0 {
		return
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(preds, " AND "))
}

func writePage(sb *strings.Builder, a *sqlArgs, limit, offset int) {
	switch {
	case limit > 0:
		sb.WriteString(" LIMIT " + a.add(limit))
	case offset > 0 && a.dialect == SQLite:
		sb.WriteString(" LIMIT -1")
	case offset > 0:
		sb.WriteString(" LIMIT ALL")
	}
	if offset > 0 {
		sb.WriteString(" OFFSET " + a.add(offset))
	}
}

func targetPredicates(alias string, t Target, a *sqlArgs) []string {
	if t.IsZero() {
		return nil
	}
	return []string{
		alias + ".content_type_id = " + a.add(t.ContentTypeID),
		alias + ".object_pk = " + a.add(t.ObjectPK),
	}
}

// buildThreadedQuery renders the threaded listing. Roots are filtered and paged
// in a derived table first; the reply slots are joined onto that result, so no
// filter ever reaches the joined replies. Slot N holds the reply whose index is
// child_count - N, i.e. slot 0 is the newest reply.
func buildThreadedQuery(d Dialect, q ThreadQuery) (string, []any) {
	a := &sqlArgs{dialect: d}

	preds := targetPredicates("r", q.Target, a)
	preds = append(preds, "r.parent_id IS NULL", "r.is_removed = FALSE")
	preds = append(preds, q.Filter.predicates("r", a)...)

	var roots strings.Builder
	roots.WriteString("SELECT * FROM " + commentTable + " r")
	writeWhere(&roots, preds)
	roots.WriteString(" ORDER BY r.sort_date DESC, r.id DESC")
	writePage(&roots, a, q.Limit, q.Offset)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectList("c", ""))
	for n := 0; n < q.ReplyLimit; n++ {
		sb.WriteString(", ")
		sb.WriteString(selectList(slotAlias(n), slotAlias(n)+"_"))
	}
	sb.WriteString(" FROM (" + roots.String() + ") c")
	for n := 0; n < q.ReplyLimit; n++ {
		alias := slotAlias(n)
		sb.WriteString(" LEFT OUTER JOIN " + commentTable + " " + alias)
		sb.WriteString(" ON " + alias + ".parent_id = c.id")
		sb.WriteString(" AND " + alias + "." + quoteIdent("index") + " = c.child_count - " + strconv.Itoa(n))
	}
	sb.WriteString(" ORDER BY c.sort_date DESC, c.id DESC")
	return sb.String(), a.args
}

// buildListQuery renders a flat listing.
func buildListQuery(d Dialect, q ListQuery) (string, []any) {
	a := &sqlArgs{dialect: d}
	preds := targetPredicates("c", q.Target, a)
	if q.ParentID != nil {
		preds = append(preds, "c.parent_id = "+a.add(*q.ParentID))
	} else if q.RootOnly {
		preds = append(preds, "c.parent_id IS NULL")
	}
	preds = append(preds, q.Filter.predicates("c", a)...)

	var sb strings.Builder
	sb.WriteString("SELECT " + selectList("c", "") + " FROM " + commentTable + " c")
	writeWhere(&sb, preds)
	if q.Order == OrderIndex {
		sb.WriteString(" ORDER BY c." + quoteIdent("index") + " ASC, c.id ASC")
	} else {
		sb.WriteString(" ORDER BY c.sort_date DESC, c.id DESC")
	}
	writePage(&sb, a, q.Limit, q.Offset)
	return sb.String(), a.args
}

// buildThreadQuery selects a root and all of its replies, root first.
func buildThreadQuery(d Dialect, rootID int64, f Filter) (string, []any) {
	a := &sqlArgs{dialect: d}
	p := a.add(rootID)
	preds := []string{"(c.id = " + p + " OR c.parent_id = " + p + ")"}
	if d == SQLite {
		// SQLite binds each ? separately.
		preds = []string{"(c.id = " + p + " OR c.parent_id = " + a.add(rootID) + ")"}
	}
	preds = append(preds, f.predicates("c", a)...)

	var sb strings.Builder
	sb.WriteString("SELECT " + selectList("c", "") + " FROM " + commentTable + " c")
	writeWhere(&sb, preds)
	sb.WriteString(" ORDER BY (c.parent_id IS NOT NULL), c." + quoteIdent("index") + " ASC, c.id ASC")
	return sb.String(), a.args
}

// commentDest returns scan destinations for a non-null comment row.
func commentDest(c *Comment) []any {
	return []any{
		&c.ID, &c.ContentTypeID, &c.ObjectPK, &c.ParentID, &c.UserID,
		&c.UserName, &c.UserEmail, &c.UserURL, &c.IPAddress,
		&c.SubmitDate, &c.SortDate, &c.Comment, &c.CommentRaw,
		&c.IsOpen, &c.IsRemoved, &c.IsApproved, &c.IsPublic, &c.IsSpam, &c.IsChecked,
		&c.SpamStatus, &c.SpamReportCount, &c.EmailSentAt,
		&c.ChildCount, &c.Index,
	}
}

// replySlot receives one joined reply; every column may be NULL when the slot
// had no matching reply.
type replySlot struct {
	ID              *int64
	ContentTypeID   *int64
	ObjectPK        *int64
	ParentID        *int64
	UserID          *int64
	UserName        *string
	UserEmail       *string
	UserURL         *string
	IPAddress       *string
	SubmitDate      *time.Time
	SortDate        *time.Time
	Comment         *string
	CommentRaw      *string
	IsOpen          *bool
	IsRemoved       *bool
	IsApproved      *bool
	IsPublic        *bool
	IsSpam          *bool
	IsChecked       *bool
	SpamStatus      *SpamStatus
	SpamReportCount *int
	EmailSentAt     *time.Time
	ChildCount      *int
	Index           *int
}

func (s *replySlot) dest() []any {
	return []any{
		&s.ID, &s.ContentTypeID, &s.ObjectPK, &s.ParentID, &s.UserID,
		&s.UserName, &s.UserEmail, &s.UserURL, &s.IPAddress,
		&s.SubmitDate, &s.SortDate, &s.Comment, &s.CommentRaw,
		&s.IsOpen, &s.IsRemoved, &s.IsApproved, &s.IsPublic, &s.IsSpam, &s.IsChecked,
		&s.SpamStatus, &s.SpamReportCount, &s.EmailSentAt,
		&s.ChildCount, &s.Index,
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *replySlot) comment() (Comment, bool) {
	if s.ID == nil {
		return Comment{}, false
	}
	return Comment{
		ID:              *s.ID,
		ContentTypeID:   deref(s.ContentTypeID),
		ObjectPK:        deref(s.ObjectPK),
		ParentID:        s.ParentID,
		UserID:          deref(s.UserID),
		UserName:        deref(s.UserName),
		UserEmail:       deref(s.UserEmail),
		UserURL:         deref(s.UserURL),
		IPAddress:       deref(s.IPAddress),
		SubmitDate:      deref(s.SubmitDate),
		SortDate:        deref(s.SortDate),
		Comment:         deref(s.Comment),
		CommentRaw:      deref(s.CommentRaw),
		IsOpen:          deref(s.IsOpen),
		IsRemoved:       deref(s.IsRemoved),
		IsApproved:      deref(s.IsApproved),
		IsPublic:        deref(s.IsPublic),
		IsSpam:          deref(s.IsSpam),
		IsChecked:       deref(s.IsChecked),
		SpamStatus:      s.SpamStatus,
		SpamReportCount: deref(s.SpamReportCount),
		EmailSentAt:     s.EmailSentAt,
		ChildCount:      deref(s.ChildCount),
		Index:           deref(s.Index),
	}, true
}

// threadedRow is one result row of buildThreadedQuery.
type threadedRow struct {
	root  Comment
	slots []replySlot
}

func newThreadedRow(replyLimit int) *threadedRow {
	return &threadedRow{slots: make([]replySlot, replyLimit)}
}

func (r *threadedRow) dest() []any {
	out := commentDest(&r.root)
	for i := range r.slots {
		out = append(out, r.slots[i].dest()...)
	}
	return out
}

// attachReplies turns the join slots into the root's reply list, oldest first.
// Unmatched slots are skipped.
func (r *threadedRow) attachReplies() Comment {
	root := r.root
	root.Replies = make([]Comment, 0, len(r.slots))
	for n := len(r.slots) - 1; n >= 0; n-- {
		if c, ok := r.slots[n].comment(); ok {
			root.Replies = append(root.Replies, c)
		}
	}
	return root
}
