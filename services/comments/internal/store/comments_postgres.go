package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// siblingIndexConstraint guards (content_type_id, object_pk, parent_id, index).
const siblingIndexConstraint = "tcc_comment_sibling_index_key"

// PostgresStore persists comments in Postgres. Replies serialize on a row lock
// of their parent; roots of one target serialize on a transaction-scoped
// advisory lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	limits LimitsFunc
	now    func() time.Time
}

// NewPostgresStore creates a store backed by pool. A nil limits func uses
// DefaultLimits.
func NewPostgresStore(pool *pgxpool.Pool, limits LimitsFunc) *PostgresStore {
	return &PostgresStore{pool: pool, limits: limits, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(commentDest(&c)...)
	return c, err
}

func collectComments(rows pgx.Rows) ([]Comment, error) {
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// mapDBError turns driver errors into store errors.
func mapDBError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == siblingIndexConstraint {
		return fmt.Errorf("%s: %w: %s", op, ErrIndexCollision, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// withTransaction runs fn in a transaction that is rolled back unless fn
// succeeds and the commit goes through.
func (s *PostgresStore) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return mapDBError(tx.Commit(ctx), "commit")
}

var selectCommentByID = "SELECT " + selectList("c", "") + " FROM " + commentTable + " c WHERE c.id = $1"

func targetLockKey(t Target) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "tcc:%d:%d", t.ContentTypeID, t.ObjectPK)
	return int64(h.Sum64())
}

func lockTarget(ctx context.Context, tx pgx.Tx, t Target) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, targetLockKey(t))
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, c Comment) (Comment, error) {
	lim := s.limits.get()
	if c.SubmitDate.IsZero() {
		c.SubmitDate = s.now().UTC()
	}
	c.SortDate = c.SubmitDate

	var out Comment
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		if c.ParentID != nil {
			parent, err := scanComment(tx.QueryRow(ctx, selectCommentByID+" FOR UPDATE", *c.ParentID))
			if errors.Is(err, pgx.ErrNoRows) {
				return Invalid(ReasonInvalidParent, "parent comment does not exist")
			}
			if err != nil {
				return mapDBError(err, "lock parent")
			}
			if err := checkParentTarget(parent, c); err != nil {
				return err
			}
			if err := checkReply(parent, lim); err != nil {
				return err
			}
		} else if err := lockTarget(ctx, tx, c.Target()); err != nil {
			return mapDBError(err, "lock target")
		}

		if lim.DuplicateWindow > 0 {
			var dup bool
			err := tx.QueryRow(ctx, `SELECT EXISTS (
				SELECT 1 FROM tcc_comment
				WHERE user_id = $1 AND comment_raw = $2 AND submit_date > $3 AND submit_date <= $4)`,
				c.UserID, c.CommentRaw, duplicateSince(c.SubmitDate, lim.DuplicateWindow), c.SubmitDate,
			).Scan(&dup)
			if err != nil {
				return mapDBError(err, "duplicate check")
			}
			if dup {
				return errDuplicate
			}
		}

		if c.ParentID != nil {
			err := tx.QueryRow(ctx,
				`UPDATE tcc_comment SET child_count = child_count + 1, sort_date = $2
				 WHERE id = $1 RETURNING child_count`,
				*c.ParentID, c.SubmitDate).Scan(&c.Index)
			if err != nil {
				return mapDBError(err, "bump parent")
			}
		} else {
			err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX("index"), 0) + 1 FROM tcc_comment
				 WHERE content_type_id = $1 AND object_pk = $2 AND parent_id IS NULL`,
				c.ContentTypeID, c.ObjectPK).Scan(&c.Index)
			if err != nil {
				return mapDBError(err, "next root index")
			}
		}

		row := tx.QueryRow(ctx, `INSERT INTO tcc_comment AS c (
				content_type_id, object_pk, parent_id, user_id,
				user_name, user_email, user_url, ip_address,
				submit_date, sort_date, comment, comment_raw,
				is_open, is_removed, is_approved, is_public, is_spam, is_checked,
				spam_status, child_count, "index")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, 0, $20)
			RETURNING `+selectList("c", ""),
			c.ContentTypeID, c.ObjectPK, c.ParentID, c.UserID,
			c.UserName, c.UserEmail, c.UserURL, c.IPAddress,
			c.SubmitDate, c.SortDate, c.Comment, c.CommentRaw,
			c.IsOpen, c.IsRemoved, c.IsApproved, c.IsPublic, c.IsSpam, c.IsChecked,
			c.SpamStatus, c.Index)
		var err error
		out, err = scanComment(row)
		return mapDBError(err, "insert comment")
	})
	if err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (Comment, error) {
	var deleted Comment
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		c, err := scanComment(tx.QueryRow(ctx, selectCommentByID, id))
		if err != nil {
			return mapDBError(err, "load comment")
		}
		// Parent (or target) first, node second: the same order Insert uses.
		if c.ParentID != nil {
			if _, err := tx.Exec(ctx, `SELECT id FROM tcc_comment WHERE id = $1 FOR UPDATE`, *c.ParentID); err != nil {
				return mapDBError(err, "lock parent")
			}
		} else if err := lockTarget(ctx, tx, c.Target()); err != nil {
			return mapDBError(err, "lock target")
		}
		if c, err = scanComment(tx.QueryRow(ctx, selectCommentByID+" FOR UPDATE", id)); err != nil {
			return mapDBError(err, "lock comment")
		}

		rows, err := tx.Query(ctx, `WITH RECURSIVE subtree(id) AS (
				SELECT id FROM tcc_comment WHERE id = $1
				UNION ALL
				SELECT r.id FROM tcc_comment r JOIN subtree s ON r.parent_id = s.id)
			SELECT id FROM subtree`, id)
		if err != nil {
			return mapDBError(err, "collect subtree")
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return mapDBError(err, "collect subtree")
		}

		for _, q := range []string{
			`DELETE FROM tcc_subscription WHERE comment_id = ANY($1)`,
			`DELETE FROM tcc_unsubscriber WHERE comment_id = ANY($1)`,
			`DELETE FROM tcc_spam_report WHERE comment_id = ANY($1)`,
		} {
			if _, err := tx.Exec(ctx, q, ids); err != nil {
				return mapDBError(err, "delete dependents")
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tcc_comment WHERE id = ANY($1) AND id <> $2`, ids, id); err != nil {
			return mapDBError(err, "delete replies")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tcc_comment WHERE id = $1`, id); err != nil {
			return mapDBError(err, "delete comment")
		}

		if c.ParentID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE tcc_comment SET child_count = child_count - 1 WHERE id = $1`, *c.ParentID); err != nil {
				return mapDBError(err, "decrement parent")
			}
		}
		_, err = tx.Exec(ctx, `UPDATE tcc_comment SET "index" = "index" - 1
			WHERE content_type_id = $1 AND object_pk = $2
			  AND parent_id IS NOT DISTINCT FROM $3 AND "index" > $4`,
			c.ContentTypeID, c.ObjectPK, c.ParentID, c.Index)
		if err != nil {
			return mapDBError(err, "reindex siblings")
		}
		deleted = c
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return deleted, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64, f Filter) (Comment, error) {
	a := &sqlArgs{dialect: Postgres}
	preds := append([]string{"c.id = " + a.add(id)}, f.predicates("c", a)...)
	q := "SELECT " + selectList("c", "") + " FROM " + commentTable + " c WHERE " + strings.Join(preds, " AND ")
	c, err := scanComment(s.pool.QueryRow(ctx, q, a.args...))
	if err != nil {
		return Comment{}, mapDBError(err, "get comment")
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]Comment, error) {
	sql, args := buildListQuery(Postgres, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapDBError(err, "list comments")
	}
	return collectComments(rows)
}

func (s *PostgresStore) Threaded(ctx context.Context, q ThreadQuery) ([]Comment, error) {
	sql, args := buildThreadedQuery(Postgres, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapDBError(err, "threaded query")
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		r := newThreadedRow(q.ReplyLimit)
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, err
		}
		out = append(out, r.attachReplies())
	}
	return out, rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, id int64) error {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tcc_comment WHERE id = $1)`, id).Scan(&ok); err != nil {
		return mapDBError(err, "comment exists")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Replies(ctx context.Context, parentID int64, f Filter) ([]Comment, error) {
	if err := s.exists(ctx, parentID); err != nil {
		return nil, err
	}
	return s.List(ctx, ListQuery{ParentID: &parentID, Filter: f, Order: OrderIndex})
}

func (s *PostgresStore) Thread(ctx context.Context, id int64, f Filter) ([]Comment, error) {
	c, err := s.Get(ctx, id, NoFilter)
	if err != nil {
		return nil, err
	}
	sql, args := buildThreadQuery(Postgres, c.RootID(), f)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapDBError(err, "thread query")
	}
	return collectComments(rows)
}

func (s *PostgresStore) Moderate(ctx context.Context, ids []int64, u FlagUpdate) ([]Comment, error) {
	if len(ids) == 0 {
		return []Comment{}, nil
	}
	a := &sqlArgs{dialect: Postgres}
	var sets []string
	set := func(col string, v any) { sets = append(sets, col+" = "+a.add(v)) }
	if u.IsOpen != nil {
		set("is_open", *u.IsOpen)
	}
	if u.IsRemoved != nil {
		set("is_removed", *u.IsRemoved)
	}
	if u.IsApproved != nil {
		set("is_approved", *u.IsApproved)
	}
	if u.IsPublic != nil {
		set("is_public", *u.IsPublic)
	}
	if u.IsSpam != nil {
		set("is_spam", *u.IsSpam)
	}
	if u.IsChecked != nil {
		set("is_checked", *u.IsChecked)
	}
	if u.SpamStatus != nil {
		set("spam_status", int16(*u.SpamStatus))
	}

	var q string
	if len(sets) == 0 {
		q = "SELECT " + selectList("c", "") + " FROM " + commentTable + " c WHERE c.id = ANY(" + a.add(ids) + ")"
	} else {
		q = "UPDATE " + commentTable + " c SET " + strings.Join(sets, ", ") +
			" WHERE c.id = ANY(" + a.add(ids) + ") RETURNING " + selectList("c", "")
	}
	rows, err := s.pool.Query(ctx, q, a.args...)
	if err != nil {
		return nil, mapDBError(err, "moderate")
	}
	out, err := collectComments(rows)
	if err != nil {
		return nil, mapDBError(err, "moderate")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tcc_comment SET email_sent_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return mapDBError(err, "mark notified")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ThreadParticipants(ctx context.Context, id int64, limit int) ([]int64, error) {
	c, err := s.Get(ctx, id, NoFilter)
	if err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM (
			SELECT id, user_id FROM tcc_comment
			WHERE id = $1 OR parent_id = $1
			ORDER BY id LIMIT $2) t
		ORDER BY id`, c.RootID(), lim)
	if err != nil {
		return nil, mapDBError(err, "thread participants")
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapDBError(err, "thread participants")
	}
	return distinctUsers(users), nil
}

func (s *PostgresStore) VerifyIndexes(ctx context.Context) ([]IndexViolation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.content_type_id, g.object_pk, g.parent_id,
		       COALESCE(p.child_count, g.n)::int, g.indices
		FROM (
			SELECT content_type_id, object_pk, parent_id, COUNT(*)::int AS n,
			       array_agg("index" ORDER BY "index") AS indices
			FROM tcc_comment
			GROUP BY content_type_id, object_pk, parent_id
		) g
		LEFT JOIN tcc_comment p ON p.id = g.parent_id
		UNION ALL
		SELECT p.content_type_id, p.object_pk, p.id, p.child_count, ARRAY[]::int[]
		FROM tcc_comment p
		WHERE p.child_count <> 0
		  AND NOT EXISTS (SELECT 1 FROM tcc_comment r WHERE r.parent_id = p.id)`)
	if err != nil {
		return nil, mapDBError(err, "verify indexes")
	}
	defer rows.Close()

	var out []IndexViolation
	for rows.Next() {
		var (
			v       IndexViolation
			indices []int32
		)
		if err := rows.Scan(&v.Target.ContentTypeID, &v.Target.ObjectPK, &v.ParentID, &v.ChildCount, &indices); err != nil {
			return nil, err
		}
		v.Indices = make([]int, len(indices))
		for i, idx := range indices {
			v.Indices[i] = int(idx)
		}
		if !denseIndices(v.Indices, v.ChildCount) {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortViolations(out)
	return out, nil
}

// Subscriptions

func (s *PostgresStore) Subscribe(ctx context.Context, userID, commentID int64) (Subscription, error) {
	var sub Subscription
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		c, err := scanComment(tx.QueryRow(ctx, selectCommentByID, commentID))
		if err != nil {
			return mapDBError(err, "load comment")
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM tcc_unsubscriber WHERE user_id = $1 AND comment_id = $2`, userID, c.RootID()); err != nil {
			return mapDBError(err, "clear unsubscriber")
		}
		if err := ensureSubscriptions(ctx, tx, commentID, []int64{userID}); err != nil {
			return err
		}
		err = tx.QueryRow(ctx,
			`SELECT user_id, comment_id, read_at FROM tcc_subscription WHERE user_id = $1 AND comment_id = $2`,
			userID, commentID).Scan(&sub.UserID, &sub.CommentID, &sub.ReadAt)
		return mapDBError(err, "load subscription")
	})
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ensureSubscriptions(ctx context.Context, q execer, commentID int64, userIDs []int64) error {
	_, err := q.Exec(ctx, `INSERT INTO tcc_subscription (user_id, comment_id, read_at)
		SELECT u, c.id, CASE WHEN u = c.user_id THEN c.submit_date END
		FROM tcc_comment c, unnest($2::bigint[]) AS u
		WHERE c.id = $1
		ON CONFLICT (user_id, comment_id) DO NOTHING`, commentID, userIDs)
	return mapDBError(err, "ensure subscriptions")
}

func (s *PostgresStore) Unsubscribe(ctx context.Context, userID, commentID int64) error {
	c, err := s.Get(ctx, commentID, NoFilter)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO tcc_unsubscriber (user_id, comment_id) VALUES ($1, $2)
		ON CONFLICT (user_id, comment_id) DO NOTHING`, userID, c.RootID())
	return mapDBError(err, "unsubscribe")
}

func (s *PostgresStore) EnsureSubscriptions(ctx context.Context, commentID int64, userIDs []int64) error {
	if err := s.exists(ctx, commentID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	return ensureSubscriptions(ctx, s.pool, commentID, userIDs)
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID int64, commentIDs []int64, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE tcc_subscription SET read_at = $3
		WHERE user_id = $1 AND comment_id = ANY($2) AND read_at IS NULL`, userID, commentIDs, at.UTC())
	if err != nil {
		return 0, mapDBError(err, "mark read")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Subscriptions(ctx context.Context, userID int64, unreadOnly bool) ([]Subscription, error) {
	q := `SELECT user_id, comment_id, read_at FROM tcc_subscription WHERE user_id = $1`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	rows, err := s.pool.Query(ctx, q+` ORDER BY comment_id`, userID)
	if err != nil {
		return nil, mapDBError(err, "subscriptions")
	}
	defer rows.Close()

	out := []Subscription{}
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.UserID, &sub.CommentID, &sub.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Unsubscribed(ctx context.Context, commentID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM tcc_unsubscriber WHERE comment_id = $1 ORDER BY user_id`, commentID)
	if err != nil {
		return nil, mapDBError(err, "unsubscribers")
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapDBError(err, "unsubscribers")
	}
	if users == nil {
		users = []int64{}
	}
	return users, nil
}

// Spam reports

func (s *PostgresStore) AddSpamReport(ctx context.Context, commentID, userID int64) (Comment, bool, error) {
	var (
		out     Comment
		created bool
	)
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := scanComment(tx.QueryRow(ctx, selectCommentByID+" FOR UPDATE", commentID)); err != nil {
			return mapDBError(err, "lock comment")
		}
		tag, err := tx.Exec(ctx, `INSERT INTO tcc_spam_report (user_id, comment_id) VALUES ($1, $2)
			ON CONFLICT (user_id, comment_id) DO NOTHING`, userID, commentID)
		if err != nil {
			return mapDBError(err, "add spam report")
		}
		created = tag.RowsAffected() == 1
		if created {
			if _, err := tx.Exec(ctx,
				`UPDATE tcc_comment SET spam_report_count = spam_report_count + 1 WHERE id = $1`, commentID); err != nil {
				return mapDBError(err, "count spam report")
			}
		}
		out, err = scanComment(tx.QueryRow(ctx, selectCommentByID, commentID))
		return mapDBError(err, "load comment")
	})
	if err != nil {
		return Comment{}, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) SpamReports(ctx context.Context, commentID int64) ([]SpamReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, comment_id FROM tcc_spam_report WHERE comment_id = $1 ORDER BY user_id`, commentID)
	if err != nil {
		return nil, mapDBError(err, "spam reports")
	}
	defer rows.Close()

	out := []SpamReport{}
	for rows.Next() {
		var r SpamReport
		if err := rows.Scan(&r.UserID, &r.CommentID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
