package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/threaded-comments/services/comments/internal/config"
	"github.com/example/threaded-comments/services/comments/internal/contenttypes"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

const (
	blogPost = int64(5)
	authUser = int64(1)
)

type fixedPolicy struct {
	mu sync.Mutex
	p  config.Policy
}

func (f *fixedPolicy) Current() config.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p
}

func (f *fixedPolicy) set(fn func(*config.Policy)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.p)
}

type dispatchRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (d *dispatchRecorder) Dispatch(_ context.Context, c store.Comment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, c.ID)
	return nil
}

func (d *dispatchRecorder) got() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

type feedbackRecorder struct {
	mu        sync.Mutex
	spam, ham []int64
}

func (f *feedbackRecorder) ReportSpam(_ context.Context, c store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spam = append(f.spam, c.ID)
	return nil
}

func (f *feedbackRecorder) ReportHam(_ context.Context, c store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ham = append(f.ham, c.ID)
	return errors.New("classifier offline")
}

type fixture struct {
	svc      *Service
	store    *store.InMemoryStore
	policy   *fixedPolicy
	dispatch *dispatchRecorder
	feedback *feedbackRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pol := &fixedPolicy{p: config.Policy{
		MaxReplies:         100,
		MaxDepth:           2,
		ReplyLimit:         3,
		DuplicateWindow:    2 * time.Minute,
		CommentMaxLength:   50,
		ContentTypes:       []string{"blog.post", "auth.user"},
		ProfileContentType: "auth.user",
	}}
	st := store.NewInMemoryStore(func() store.Limits { return pol.Current().Limits() })
	reg := contenttypes.NewRegistry(contenttypes.Static{"blog.post": blogPost, "auth.user": authUser},
		pol.Current().ContentTypes, pol.Current().ProfileContentType)

	f := &fixture{store: st, policy: pol, dispatch: &dispatchRecorder{}, feedback: &feedbackRecorder{}}
	f.svc = New(Options{
		Store:        st,
		Policy:       pol,
		ContentTypes: reg,
		Permissions: DefaultPermissions{ProfileType: func(ctx context.Context) (int64, bool) {
			id, ok, err := reg.ID(ctx, "auth.user")
			return id, ok && err == nil
		}},
		Spam:       f.feedback,
		Dispatcher: f.dispatch,
	})
	return f
}

var (
	alice = Actor{UserID: 1}
	bob   = Actor{UserID: 2}
	carol = Actor{UserID: 3}
	staff = Actor{UserID: 99, Staff: true}
)

func (f *fixture) post(t *testing.T, actor Actor, text string, parent *int64) store.Comment {
	t.Helper()
	c, err := f.svc.Post(context.Background(), actor, PostInput{
		ContentTypeID: blogPost, ObjectPK: 42, ParentID: parent, Content: text,
	})
	if err != nil {
		t.Fatalf("post %q: %v", text, err)
	}
	return c
}

func expectReason(t *testing.T, err error, reason string) {
	t.Helper()
	ve, ok := store.IsValidation(err)
	if !ok {
		t.Fatalf("expected validation error %q, got %v", reason, err)
	}
	if ve.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, ve.Reason)
	}
}

func TestPost_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Post(ctx, Actor{}, PostInput{ContentTypeID: blogPost, ObjectPK: 1, Content: "hi"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	_, err := f.svc.Post(ctx, alice, PostInput{ContentTypeID: 9, ObjectPK: 1, Content: "hi"})
	expectReason(t, err, store.ReasonBlockedContentType)

	_, err = f.svc.Post(ctx, alice, PostInput{ContentTypeID: blogPost, ObjectPK: 1, Content: "  <b></b> "})
	expectReason(t, err, store.ReasonEmpty)

	_, err = f.svc.Post(ctx, alice, PostInput{ContentTypeID: blogPost, ObjectPK: 1, Content: strings.Repeat("x", 51)})
	expectReason(t, err, store.ReasonTooLong)

	missing := int64(1234)
	_, err = f.svc.Post(ctx, alice, PostInput{ContentTypeID: blogPost, ObjectPK: 1, ParentID: &missing, Content: "orphan"})
	expectReason(t, err, store.ReasonInvalidParent)
}

func TestPost_RendersAndStores(t *testing.T) {
	f := newFixture(t)
	c := f.post(t, alice, "  **hello** world  ", nil)

	if c.CommentRaw != "**hello** world" {
		t.Fatalf("raw content should be trimmed, got %q", c.CommentRaw)
	}
	if !strings.Contains(c.Comment, "<strong>hello</strong>") {
		t.Fatalf("expected rendered html, got %q", c.Comment)
	}
	if !c.IsOpen || !c.IsApproved || !c.IsPublic || c.Index != 1 || c.UserID != alice.UserID {
		t.Fatalf("unexpected stored comment %+v", c)
	}
}

func TestPost_ModeratedStartsUnapproved(t *testing.T) {
	f := newFixture(t)
	f.policy.set(func(p *config.Policy) { p.Moderated = true })
	c := f.post(t, alice, "needs review", nil)
	if c.IsApproved {
		t.Fatal("comment should await approval")
	}

	threads, err := f.svc.Threads(context.Background(), ThreadsQuery{Target: c.Target()})
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("unapproved comment must be hidden, got %d", len(threads))
	}

	if _, err := f.svc.Approve(context.Background(), alice, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	threads, _ = f.svc.Threads(context.Background(), ThreadsQuery{Target: c.Target()})
	if len(threads) != 1 {
		t.Fatalf("approved comment should be listed, got %d", len(threads))
	}
}

func TestHooks_BeforeCreateOrderAndRejection(t *testing.T) {
	f := newFixture(t)
	var order []string
	f.svc.Hooks().OnBeforeCreate("tag", func(_ context.Context, c *store.Comment) error {
		order = append(order, "tag")
		c.UserName = "tagged"
		return nil
	})
	f.svc.Hooks().OnBeforeCreate("antispam", func(_ context.Context, c *store.Comment) error {
		order = append(order, "antispam")
		if strings.Contains(c.CommentRaw, "casino") {
			return errors.New("looks like spam")
		}
		return nil
	})
	f.svc.Hooks().OnBeforeCreate("never", func(context.Context, *store.Comment) error {
		order = append(order, "never")
		return nil
	})

	_, err := f.svc.Post(context.Background(), alice, PostInput{ContentTypeID: blogPost, ObjectPK: 1, Content: "online casino"})
	expectReason(t, err, store.ReasonRejected)
	if strings.Join(order, ",") != "tag,antispam" {
		t.Fatalf("unexpected hook order %v", order)
	}

	threads, _ := f.svc.Threads(context.Background(), ThreadsQuery{Target: store.Target{ContentTypeID: blogPost, ObjectPK: 1}})
	if len(threads) != 0 {
		t.Fatal("rejected comment must not be stored")
	}

	order = nil
	c := f.post(t, alice, "fine", nil)
	if c.UserName != "tagged" || len(order) != 3 {
		t.Fatalf("hooks should run and mutate, got %+v %v", c, order)
	}
}

func TestHooks_BeforeCreateKeepsValidationReason(t *testing.T) {
	f := newFixture(t)
	f.svc.Hooks().OnBeforeCreate("closed-site", func(context.Context, *store.Comment) error {
		return store.Invalid(store.ReasonClosed, "site is read-only")
	})
	_, err := f.svc.Post(context.Background(), alice, PostInput{ContentTypeID: blogPost, ObjectPK: 1, Content: "hi"})
	expectReason(t, err, store.ReasonClosed)
}

func TestHooks_AfterCreateIsolated(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []int64
	f.svc.Hooks().OnAfterCreate("boom", func(context.Context, store.Comment) error { panic("boom") })
	f.svc.Hooks().OnAfterCreate("fails", func(context.Context, store.Comment) error { return errors.New("nope") })
	f.svc.Hooks().OnAfterCreate("records", func(_ context.Context, c store.Comment) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.ID)
		return nil
	})

	c := f.post(t, alice, "hello", nil)
	f.svc.Hooks().Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != c.ID {
		t.Fatalf("expected after hook to observe %d, got %v", c.ID, seen)
	}
}

func TestNotification_DispatchedAfterCreate(t *testing.T) {
	f := newFixture(t)
	root := f.post(t, alice, "root", nil)
	reply := f.post(t, bob, "reply", &root.ID)
	f.svc.Hooks().Wait()

	got := f.dispatch.got()
	if len(got) != 2 || !containsID(got, root.ID) || !containsID(got, reply.ID) {
		t.Fatalf("expected both comments dispatched, got %v", got)
	}
}

func TestNotification_DeferredUntilHam(t *testing.T) {
	f := newFixture(t)
	f.policy.set(func(p *config.Policy) { p.SpamFiltering = true })
	ctx := context.Background()

	c := f.post(t, alice, "unchecked", nil)
	f.svc.Hooks().Wait()
	if len(f.dispatch.got()) != 0 {
		t.Fatal("fan-out must wait for a ham verdict")
	}

	if threads, _ := f.svc.Threads(ctx, ThreadsQuery{Target: c.Target()}); len(threads) != 0 {
		t.Fatal("unchecked comment must be hidden while spam filtering is on")
	}

	out, err := f.svc.MarkHam(ctx, staff, []int64{c.ID})
	if err != nil {
		t.Fatalf("mark ham: %v", err)
	}
	if len(out) != 1 || out[0].SpamStatus == nil || *out[0].SpamStatus != store.SpamStatusHam || out[0].IsRemoved {
		t.Fatalf("unexpected ham result %+v", out)
	}
	if got := f.dispatch.got(); len(got) != 1 || got[0] != c.ID {
		t.Fatalf("expected deferred dispatch, got %v", got)
	}
	if len(f.feedback.ham) != 1 {
		t.Fatal("ham feedback should be sent even though it fails")
	}
	if threads, _ := f.svc.Threads(ctx, ThreadsQuery{Target: c.Target()}); len(threads) != 1 {
		t.Fatal("ham comment should be visible")
	}
}

func TestMarkSpam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.post(t, alice, "spammy", nil)

	if _, err := f.svc.MarkSpam(ctx, bob, []int64{c.ID}); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}

	out, err := f.svc.MarkSpam(ctx, staff, []int64{c.ID, 4040})
	if err != nil {
		t.Fatalf("mark spam: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("unknown ids should be skipped, got %d results", len(out))
	}
	got := out[0]
	if !got.IsSpam || !got.IsChecked || !got.IsRemoved || got.SpamStatus == nil || *got.SpamStatus != store.SpamStatusSpam {
		t.Fatalf("unexpected spam flags %+v", got)
	}
	if len(f.feedback.spam) != 1 || f.feedback.spam[0] != c.ID {
		t.Fatalf("expected classifier feedback, got %v", f.feedback.spam)
	}
}

func TestReportSpam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.post(t, alice, "hmm", nil)

	if _, _, err := f.svc.ReportSpam(ctx, Actor{}, c.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	got, created, err := f.svc.ReportSpam(ctx, bob, c.ID)
	if err != nil || !created || got.SpamReportCount != 1 {
		t.Fatalf("first report: %+v %v %v", got, created, err)
	}
	got, created, err = f.svc.ReportSpam(ctx, bob, c.ID)
	if err != nil || created || got.SpamReportCount != 1 {
		t.Fatalf("repeat report must be idempotent: %+v %v %v", got, created, err)
	}
	if _, _, err := f.svc.ReportSpam(ctx, bob, 4040); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.post(t, alice, "mine", nil)

	if _, err := f.svc.Close(ctx, bob, c.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission for stranger, got %v", err)
	}
	closed, err := f.svc.Close(ctx, alice, c.ID)
	if err != nil || closed.IsOpen {
		t.Fatalf("author should close: %+v %v", closed, err)
	}
	_, err = f.svc.Post(ctx, bob, PostInput{ContentTypeID: blogPost, ObjectPK: 42, ParentID: &c.ID, Content: "late"})
	expectReason(t, err, store.ReasonClosed)

	if _, err := f.svc.Open(ctx, staff, c.ID); err != nil {
		t.Fatalf("staff should open: %v", err)
	}

	// Bob may remove comments left on his own profile but not approve them.
	onProfile, err := f.svc.Post(ctx, alice, PostInput{ContentTypeID: authUser, ObjectPK: bob.UserID, Content: "hi bob"})
	if err != nil {
		t.Fatalf("post on profile: %v", err)
	}
	if _, err := f.svc.Disapprove(ctx, bob, onProfile.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	removed, err := f.svc.Remove(ctx, bob, onProfile.ID)
	if err != nil || !removed.IsRemoved {
		t.Fatalf("profile owner should remove: %+v %v", removed, err)
	}
	if _, err := f.svc.Remove(ctx, carol, c.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission for carol, got %v", err)
	}
	if _, err := f.svc.Restore(ctx, alice, onProfile.ID); err != nil {
		t.Fatalf("author should restore: %v", err)
	}
	if _, err := f.svc.Close(ctx, alice, 4040); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.post(t, alice, "root", nil)
	a := f.post(t, bob, "a", &root.ID)
	b := f.post(t, carol, "b", &root.ID)
	if _, err := f.svc.Remove(ctx, bob, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	replies, err := f.svc.Replies(ctx, root.ID)
	if err != nil {
		t.Fatalf("replies: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != b.ID {
		t.Fatalf("removed reply must be hidden, got %+v", replies)
	}

	thread, err := f.svc.Thread(ctx, b.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 2 || thread[0].ID != root.ID || thread[1].ID != b.ID {
		t.Fatalf("unexpected thread %+v", thread)
	}

	if _, err := f.svc.Get(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("removed comment must 404, got %v", err)
	}

	threads, err := f.svc.Threads(ctx, ThreadsQuery{Target: root.Target()})
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	// Joined replies are not filtered: the removed reply still occupies a slot.
	if len(threads) != 1 || len(threads[0].Replies) != 2 {
		t.Fatalf("unexpected threaded view %+v", threads)
	}

	if _, err := f.svc.Remove(ctx, alice, root.ID); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	if _, err := f.svc.Replies(ctx, root.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("replies of a hidden parent must 404, got %v", err)
	}
	thread, err = f.svc.Thread(ctx, b.ID)
	if err != nil || len(thread) != 1 || thread[0].ID != b.ID {
		t.Fatalf("hidden root must drop out of the thread, got %+v %v", thread, err)
	}
	if _, err := f.svc.Thread(ctx, 4040); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAndModerationListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.post(t, alice, "root", nil)
	f.post(t, bob, "reply", &root.ID)
	other := f.post(t, bob, "other", nil)
	if _, err := f.svc.Remove(ctx, bob, other.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := f.svc.ListModeration(ctx, alice, ModerationQuery{Visibility: store.Removed}); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	removed, err := f.svc.ListModeration(ctx, staff, ModerationQuery{Visibility: store.Removed})
	if err != nil || len(removed) != 1 || removed[0].ID != other.ID {
		t.Fatalf("unexpected removed listing %+v %v", removed, err)
	}

	if _, err := f.svc.Delete(ctx, alice, root.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("authors cannot hard-delete, got %v", err)
	}
	deleted, err := f.svc.Delete(ctx, staff, root.ID)
	if err != nil || deleted.ID != root.ID {
		t.Fatalf("delete: %+v %v", deleted, err)
	}
	all, _ := f.svc.ListModeration(ctx, staff, ModerationQuery{Visibility: store.Unfiltered})
	if len(all) != 1 || all[0].ID != other.ID || all[0].Index != 1 {
		t.Fatalf("expected only the re-indexed remaining root, got %+v", all)
	}
}

func TestSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.post(t, alice, "root", nil)

	sub, err := f.svc.Subscribe(ctx, bob, root.ID)
	if err != nil || sub.Read() {
		t.Fatalf("subscribe: %+v %v", sub, err)
	}
	unread, _ := f.svc.Subscriptions(ctx, bob, true)
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread, got %d", len(unread))
	}
	n, err := f.svc.MarkRead(ctx, bob, []int64{root.ID})
	if err != nil || n != 1 {
		t.Fatalf("mark read: %d %v", n, err)
	}
	if unread, _ := f.svc.Subscriptions(ctx, bob, true); len(unread) != 0 {
		t.Fatalf("expected no unread, got %d", len(unread))
	}
	if err := f.svc.Unsubscribe(ctx, Actor{}, root.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := f.svc.Unsubscribe(ctx, bob, root.ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
