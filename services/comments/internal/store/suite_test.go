package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// storeFactory returns an empty store enforcing the given limits.
type storeFactory func(t *testing.T, l Limits) Store

var testTarget = Target{ContentTypeID: 5, ObjectPK: 42}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newComment(userID int64, text string, parent *int64) Comment {
	return Comment{
		ContentTypeID: testTarget.ContentTypeID,
		ObjectPK:      testTarget.ObjectPK,
		ParentID:      parent,
		UserID:        userID,
		Comment:       text,
		CommentRaw:    text,
		IsOpen:        true,
		IsApproved:    true,
		IsPublic:      true,
	}
}

func mustInsert(t *testing.T, s Store, c Comment) Comment {
	t.Helper()
	out, err := s.Insert(context.Background(), c)
	if err != nil {
		t.Fatalf("insert %q: %v", c.CommentRaw, err)
	}
	return out
}

func mustGet(t *testing.T, s Store, id int64) Comment {
	t.Helper()
	c, err := s.Get(context.Background(), id, NoFilter)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return c
}

func expectReason(t *testing.T, err error, reason string) {
	t.Helper()
	ve, ok := IsValidation(err)
	if !ok {
		t.Fatalf("expected validation error %q, got %v", reason, err)
	}
	if ve.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, ve.Reason)
	}
}

func expectNoViolations(t *testing.T, s Store) {
	t.Helper()
	vs, err := s.VerifyIndexes(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("expected dense indices, got violations %+v", vs)
	}
}

func replyIDs(c Comment) []int64 {
	out := make([]int64, len(c.Replies))
	for i, r := range c.Replies {
		out[i] = r.ID
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func threadedRoot(t *testing.T, s Store, rootID int64, replyLimit int) Comment {
	t.Helper()
	roots, err := s.Threaded(context.Background(), ThreadQuery{Target: testTarget, Filter: NoFilter, ReplyLimit: replyLimit})
	if err != nil {
		t.Fatalf("threaded: %v", err)
	}
	for _, r := range roots {
		if r.ID == rootID {
			return r
		}
	}
	t.Fatalf("root %d missing from threaded listing", rootID)
	return Comment{}
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("EndToEnd", func(t *testing.T) { testEndToEnd(t, newStore) })
	t.Run("ReplyLimit", func(t *testing.T) { testReplyLimit(t, newStore) })
	t.Run("DepthLimit", func(t *testing.T) { testDepthLimit(t, newStore) })
	t.Run("ClosedParent", func(t *testing.T) { testClosedParent(t, newStore) })
	t.Run("ParentOnOtherTarget", func(t *testing.T) { testParentOnOtherTarget(t, newStore) })
	t.Run("DuplicateGuard", func(t *testing.T) { testDuplicateGuard(t, newStore) })
	t.Run("DeleteCascade", func(t *testing.T) { testDeleteCascade(t, newStore) })
	t.Run("RootReindex", func(t *testing.T) { testRootReindex(t, newStore) })
	t.Run("Visibility", func(t *testing.T) { testVisibility(t, newStore) })
	t.Run("ThreadedFiltersRootsOnly", func(t *testing.T) { testThreadedFiltersRootsOnly(t, newStore) })
	t.Run("ConcurrentReplies", func(t *testing.T) { testConcurrentReplies(t, newStore) })
	t.Run("Moderate", func(t *testing.T) { testModerate(t, newStore) })
	t.Run("SpamReports", func(t *testing.T) { testSpamReports(t, newStore) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore) })
	t.Run("ThreadParticipants", func(t *testing.T) { testThreadParticipants(t, newStore) })
}

func testEndToEnd(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	root := mustInsert(t, s, newComment(1, "R", nil))
	if root.Index != 1 || root.ChildCount != 0 {
		t.Fatalf("expected root index=1 child_count=0, got %d/%d", root.Index, root.ChildCount)
	}

	var replies []Comment
	for i, text := range []string{"A", "B", "C", "D"} {
		c := newComment(int64(10+i), text, &root.ID)
		c.SubmitDate = t0.Add(time.Duration(i+1) * time.Minute)
		r := mustInsert(t, s, c)
		if r.Index != i+1 {
			t.Fatalf("reply %s: expected index %d, got %d", text, i+1, r.Index)
		}
		replies = append(replies, r)
	}
	a, b, c, d := replies[0], replies[1], replies[2], replies[3]

	root = mustGet(t, s, root.ID)
	if root.ChildCount != 4 {
		t.Fatalf("expected child_count 4, got %d", root.ChildCount)
	}
	if !root.SortDate.Equal(d.SubmitDate) {
		t.Fatalf("expected sort_date bumped to %v, got %v", d.SubmitDate, root.SortDate)
	}

	got := threadedRoot(t, s, root.ID, 3)
	if want := []int64{b.ID, c.ID, d.ID}; !sameIDs(replyIDs(got), want) {
		t.Fatalf("expected replies %v, got %v", want, replyIDs(got))
	}

	if _, err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete B: %v", err)
	}
	if got := mustGet(t, s, c.ID).Index; got != 2 {
		t.Fatalf("expected C re-indexed to 2, got %d", got)
	}
	if got := mustGet(t, s, d.ID).Index; got != 3 {
		t.Fatalf("expected D re-indexed to 3, got %d", got)
	}
	if got := mustGet(t, s, root.ID).ChildCount; got != 3 {
		t.Fatalf("expected child_count 3, got %d", got)
	}

	got = threadedRoot(t, s, root.ID, 3)
	if want := []int64{a.ID, c.ID, d.ID}; !sameIDs(replyIDs(got), want) {
		t.Fatalf("expected replies %v after delete, got %v", want, replyIDs(got))
	}

	if got := threadedRoot(t, s, root.ID, 0); len(got.Replies) != 0 {
		t.Fatalf("expected no replies with reply limit 0, got %d", len(got.Replies))
	}
	if got := threadedRoot(t, s, root.ID, 5); len(got.Replies) != 3 {
		t.Fatalf("expected min(child_count, L) = 3 replies, got %d", len(got.Replies))
	}
	expectNoViolations(t, s)
}

func testReplyLimit(t *testing.T, newStore storeFactory) {
	s := newStore(t, Limits{MaxReplies: 3, MaxDepth: 2, DuplicateWindow: 2 * time.Minute})
	root := mustInsert(t, s, newComment(1, "root", nil))

	for i := 1; i <= 3; i++ {
		mustInsert(t, s, newComment(2, fmt.Sprintf("reply %d", i), &root.ID))
	}
	_, err := s.Insert(context.Background(), newComment(2, "one too many", &root.ID))
	expectReason(t, err, ReasonReplyLimit)

	if got := mustGet(t, s, root.ID).ChildCount; got != 3 {
		t.Fatalf("rejected insert must not touch the counter, got child_count %d", got)
	}
	expectNoViolations(t, s)
}

func testDepthLimit(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	root := mustInsert(t, s, newComment(1, "root", nil))
	reply := mustInsert(t, s, newComment(2, "reply", &root.ID))

	_, err := s.Insert(context.Background(), newComment(3, "reply to reply", &reply.ID))
	expectReason(t, err, ReasonMaxDepth)

	flat := newStore(t, Limits{MaxReplies: 100, MaxDepth: 1, DuplicateWindow: time.Minute})
	root = mustInsert(t, flat, newComment(1, "root", nil))
	_, err = flat.Insert(context.Background(), newComment(2, "reply", &root.ID))
	expectReason(t, err, ReasonMaxDepth)
}

func testClosedParent(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	c := newComment(1, "closed root", nil)
	c.IsOpen = false
	root := mustInsert(t, s, c)

	_, err := s.Insert(context.Background(), newComment(2, "reply", &root.ID))
	expectReason(t, err, ReasonClosed)
}

func testParentOnOtherTarget(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	root := mustInsert(t, s, newComment(1, "root", nil))

	reply := newComment(2, "reply", &root.ID)
	reply.ObjectPK = 43
	_, err := s.Insert(context.Background(), reply)
	expectReason(t, err, ReasonInvalidParent)

	missing := root.ID + 1000
	_, err = s.Insert(context.Background(), newComment(2, "orphan", &missing))
	expectReason(t, err, ReasonInvalidParent)
}

func testDuplicateGuard(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	first := newComment(1, "same text", nil)
	first.SubmitDate = t0
	mustInsert(t, s, first)

	again := newComment(1, "same text", nil)
	again.SubmitDate = t0.Add(time.Minute)
	_, err := s.Insert(ctx, again)
	expectReason(t, err, ReasonDuplicate)

	other := newComment(2, "same text", nil)
	other.SubmitDate = t0.Add(time.Minute)
	if _, err := s.Insert(ctx, other); err != nil {
		t.Fatalf("another author may post the same text: %v", err)
	}

	later := newComment(1, "same text", nil)
	later.SubmitDate = t0.Add(2*time.Minute + time.Second)
	if _, err := s.Insert(ctx, later); err != nil {
		t.Fatalf("expected insert after the window to succeed: %v", err)
	}
}

func testDeleteCascade(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	root := mustInsert(t, s, newComment(1, "root", nil))
	keep := mustInsert(t, s, newComment(9, "unrelated root", nil))
	var ids []int64
	for i := 0; i < 3; i++ {
		r := mustInsert(t, s, newComment(int64(2+i), fmt.Sprintf("reply %d", i), &root.ID))
		ids = append(ids, r.ID)
		if _, err := s.Subscribe(ctx, 7, r.ID); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if _, _, err := s.AddSpamReport(ctx, r.ID, 8); err != nil {
			t.Fatalf("spam report: %v", err)
		}
	}
	if _, err := s.Subscribe(ctx, 7, root.ID); err != nil {
		t.Fatalf("subscribe root: %v", err)
	}
	if err := s.Unsubscribe(ctx, 6, root.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	deleted, err := s.Delete(ctx, root.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != root.ID {
		t.Fatalf("expected deleted comment %d, got %d", root.ID, deleted.ID)
	}

	for _, id := range append(ids, root.ID) {
		if _, err := s.Get(ctx, id, NoFilter); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %d to be gone, got %v", id, err)
		}
		reports, err := s.SpamReports(ctx, id)
		if err != nil {
			t.Fatalf("spam reports: %v", err)
		}
		if len(reports) != 0 {
			t.Fatalf("expected no spam reports for %d, got %d", id, len(reports))
		}
		unsubs, err := s.Unsubscribed(ctx, id)
		if err != nil {
			t.Fatalf("unsubscribed: %v", err)
		}
		if len(unsubs) != 0 {
			t.Fatalf("expected no unsubscribers for %d, got %v", id, unsubs)
		}
	}
	subs, err := s.Subscriptions(ctx, 7, false)
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected orphan subscriptions to be removed, got %+v", subs)
	}

	all, err := s.List(ctx, ListQuery{Target: testTarget, Filter: NoFilter})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ID != keep.ID {
		t.Fatalf("expected only the unrelated root to survive, got %d rows", len(all))
	}
	if _, err := s.Delete(ctx, root.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func testRootReindex(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	r1 := mustInsert(t, s, newComment(1, "r1", nil))
	r2 := mustInsert(t, s, newComment(1, "r2", nil))
	r3 := mustInsert(t, s, newComment(1, "r3", nil))
	if r1.Index != 1 || r2.Index != 2 || r3.Index != 3 {
		t.Fatalf("expected root indices 1,2,3, got %d,%d,%d", r1.Index, r2.Index, r3.Index)
	}

	other := newComment(1, "other target", nil)
	other.ObjectPK = 99
	if got := mustInsert(t, s, other).Index; got != 1 {
		t.Fatalf("roots are indexed per target, got %d", got)
	}

	if _, err := s.Delete(ctx, r2.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := mustGet(t, s, r3.ID).Index; got != 2 {
		t.Fatalf("expected r3 re-indexed to 2, got %d", got)
	}
	if got := mustInsert(t, s, newComment(1, "r4", nil)).Index; got != 3 {
		t.Fatalf("expected next root index 3, got %d", got)
	}
	expectNoViolations(t, s)
}

func testVisibility(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	c := newComment(1, "awaiting approval", nil)
	c.IsApproved = false
	pending := mustInsert(t, s, c)
	approved := mustInsert(t, s, newComment(1, "approved", nil))

	current := Filter{Visibility: Current, AllowedContentTypes: []int64{testTarget.ContentTypeID}}
	if _, err := s.Get(ctx, pending.ID, current); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unapproved comment hidden from current, got %v", err)
	}
	if _, err := s.Get(ctx, pending.ID, NoFilter); err != nil {
		t.Fatalf("expected unapproved comment in unfiltered: %v", err)
	}
	if _, err := s.Get(ctx, pending.ID, Filter{Visibility: Disapproved}); err != nil {
		t.Fatalf("expected unapproved comment in disapproved: %v", err)
	}
	if _, err := s.Get(ctx, approved.ID, current); err != nil {
		t.Fatalf("expected approved comment in current: %v", err)
	}
	if _, err := s.Get(ctx, approved.ID, Filter{Visibility: Current}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected empty allow-list to hide everything, got %v", err)
	}

	spamChecked := current
	spamChecked.SpamChecked = true
	if _, err := s.Get(ctx, approved.ID, spamChecked); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unclassified comment hidden when spam filtering, got %v", err)
	}

	removed, err := s.List(ctx, ListQuery{Target: testTarget, Filter: Filter{Visibility: Removed}})
	if err != nil {
		t.Fatalf("list removed: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removed comments, got %d", len(removed))
	}
}

func testThreadedFiltersRootsOnly(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()

	root := mustInsert(t, s, newComment(1, "root", nil))
	c := newComment(2, "unapproved reply", &root.ID)
	c.IsApproved = false
	reply := mustInsert(t, s, c)

	hidden := newComment(3, "unapproved root", nil)
	hidden.IsApproved = false
	mustInsert(t, s, hidden)

	gone := newComment(4, "removed root", nil)
	gone.IsRemoved = true
	mustInsert(t, s, gone)

	current := Filter{Visibility: Current, AllowedContentTypes: []int64{testTarget.ContentTypeID}}
	roots, err := s.Threaded(ctx, ThreadQuery{Target: testTarget, Filter: current, ReplyLimit: 3})
	if err != nil {
		t.Fatalf("threaded: %v", err)
	}
	if len(roots) != 1 || roots[0].ID != root.ID {
		t.Fatalf("expected only the approved root, got %d roots", len(roots))
	}
	if !sameIDs(replyIDs(roots[0]), []int64{reply.ID}) {
		t.Fatalf("replies are not filtered, expected [%d], got %v", reply.ID, replyIDs(roots[0]))
	}

	all, err := s.Threaded(ctx, ThreadQuery{Target: testTarget, Filter: NoFilter, ReplyLimit: 3})
	if err != nil {
		t.Fatalf("threaded: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("removed roots never appear in threaded listings, expected 2 got %d", len(all))
	}

	paged, err := s.Threaded(ctx, ThreadQuery{Target: testTarget, Filter: NoFilter, ReplyLimit: 3, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("threaded page: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != all[1].ID {
		t.Fatalf("expected second root on page 2")
	}
}

func testConcurrentReplies(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()
	root := mustInsert(t, s, newComment(1, "root", nil))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Insert(ctx, newComment(int64(100+i), fmt.Sprintf("concurrent %d", i), &root.ID))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	if got := mustGet(t, s, root.ID).ChildCount; got != n {
		t.Fatalf("expected child_count %d, got %d", n, got)
	}
	replies, err := s.Replies(ctx, root.ID, NoFilter)
	if err != nil {
		t.Fatalf("replies: %v", err)
	}
	for i, r := range replies {
		if r.Index != i+1 {
			t.Fatalf("expected dense indices, reply %d has index %d", i, r.Index)
		}
	}
	expectNoViolations(t, s)
}

func testModerate(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()
	a := mustInsert(t, s, newComment(1, "a", nil))
	b := mustInsert(t, s, newComment(1, "b", nil))

	removed, spam := true, SpamStatusSpam
	out, err := s.Moderate(ctx, []int64{a.ID, b.ID, 9999}, FlagUpdate{IsRemoved: &removed, SpamStatus: &spam})
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 updated comments, got %d", len(out))
	}
	for _, c := range out {
		if !c.IsRemoved || c.SpamStatus == nil || *c.SpamStatus != SpamStatusSpam {
			t.Fatalf("expected removed spam, got %+v", c)
		}
		if !c.IsApproved {
			t.Fatalf("untouched flags must survive")
		}
	}
	list, err := s.List(ctx, ListQuery{Target: testTarget, Filter: Filter{Visibility: Removed}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 removed comments, got %d", len(list))
	}

	at := t0.Add(time.Hour)
	if err := s.MarkNotified(ctx, a.ID, at); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if got := mustGet(t, s, a.ID).EmailSentAt; got == nil || !got.Equal(at) {
		t.Fatalf("expected email_sent_at %v, got %v", at, got)
	}
}

func testSpamReports(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()
	c := mustInsert(t, s, newComment(1, "suspicious", nil))

	got, created, err := s.AddSpamReport(ctx, c.ID, 2)
	if err != nil || !created || got.SpamReportCount != 1 {
		t.Fatalf("first report: created=%v count=%d err=%v", created, got.SpamReportCount, err)
	}
	got, created, err = s.AddSpamReport(ctx, c.ID, 2)
	if err != nil || created || got.SpamReportCount != 1 {
		t.Fatalf("repeat report must be a no-op: created=%v count=%d err=%v", created, got.SpamReportCount, err)
	}
	got, _, err = s.AddSpamReport(ctx, c.ID, 3)
	if err != nil || got.SpamReportCount != 2 {
		t.Fatalf("second reporter: count=%d err=%v", got.SpamReportCount, err)
	}
	if _, _, err := s.AddSpamReport(ctx, c.ID+1000, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSubscriptions(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()
	c := newComment(1, "root", nil)
	c.SubmitDate = t0
	root := mustInsert(t, s, c)

	if err := s.EnsureSubscriptions(ctx, root.ID, []int64{1, 2, 3}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.EnsureSubscriptions(ctx, root.ID, []int64{2}); err != nil {
		t.Fatalf("ensure twice: %v", err)
	}

	own, err := s.Subscriptions(ctx, 1, false)
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(own) != 1 || !own[0].Read() || !own[0].ReadAt.Equal(t0) {
		t.Fatalf("author subscription starts read at submit date, got %+v", own)
	}

	unread, err := s.Subscriptions(ctx, 2, true)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 1 || unread[0].Read() {
		t.Fatalf("expected one unread subscription, got %+v", unread)
	}

	n, err := s.MarkRead(ctx, 2, []int64{root.ID}, t0.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	if n, _ := s.MarkRead(ctx, 2, []int64{root.ID}, t0.Add(2*time.Hour)); n != 0 {
		t.Fatalf("already-read subscriptions are left alone, marked %d", n)
	}
	if unread, _ = s.Subscriptions(ctx, 2, true); len(unread) != 0 {
		t.Fatalf("expected no unread subscriptions, got %d", len(unread))
	}

	reply := mustInsert(t, s, newComment(4, "reply", &root.ID))
	if err := s.Unsubscribe(ctx, 3, reply.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	users, err := s.Unsubscribed(ctx, root.ID)
	if err != nil {
		t.Fatalf("unsubscribed: %v", err)
	}
	if !sameIDs(users, []int64{3}) {
		t.Fatalf("opt-outs are recorded on the thread root, got %v", users)
	}
	if _, err := s.Subscribe(ctx, 3, root.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if users, _ = s.Unsubscribed(ctx, root.ID); len(users) != 0 {
		t.Fatalf("subscribing again clears the opt-out, got %v", users)
	}
	if err := s.EnsureSubscriptions(ctx, root.ID+1000, []int64{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testThreadParticipants(t *testing.T, newStore storeFactory) {
	s := newStore(t, DefaultLimits())
	ctx := context.Background()
	root := mustInsert(t, s, newComment(1, "root", nil))
	mustInsert(t, s, newComment(2, "first", &root.ID))
	mustInsert(t, s, newComment(1, "author again", &root.ID))
	last := mustInsert(t, s, newComment(3, "third", &root.ID))

	users, err := s.ThreadParticipants(ctx, last.ID, 0)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if !sameIDs(users, []int64{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", users)
	}
	users, err = s.ThreadParticipants(ctx, root.ID, 2)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if !sameIDs(users, []int64{1, 2}) {
		t.Fatalf("expected participants bounded to 2 comments, got %v", users)
	}

	thread, err := s.Thread(ctx, last.ID, NoFilter)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 4 || thread[0].ID != root.ID || thread[3].ID != last.ID {
		t.Fatalf("expected root first then replies oldest to newest, got %d comments", len(thread))
	}
}
