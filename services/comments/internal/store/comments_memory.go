package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	userID    int64
	commentID int64
}

// InMemoryStore is a development and test implementation of Store. A single
// mutex serializes every write, which makes index assignment linearizable.
type InMemoryStore struct {
	mu       sync.RWMutex
	limits   LimitsFunc
	now      func() time.Time
	nextID   int64
	comments map[int64]Comment
	subs     map[pairKey]Subscription
	unsubs   map[pairKey]struct{}
	reports  map[pairKey]struct{}
}

// NewInMemoryStore creates an empty store. A nil limits func uses DefaultLimits.
func NewInMemoryStore(limits LimitsFunc) *InMemoryStore {
	return &InMemoryStore{
		limits:   limits,
		now:      time.Now,
		comments: make(map[int64]Comment),
		subs:     make(map[pairKey]Subscription),
		unsubs:   make(map[pairKey]struct{}),
		reports:  make(map[pairKey]struct{}),
	}
}

// SetClock replaces the clock used for submit dates that were left unset.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *InMemoryStore) Insert(_ context.Context, c Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim := s.limits.get()
	if c.SubmitDate.IsZero() {
		c.SubmitDate = s.now().UTC()
	}
	c.SortDate = c.SubmitDate

	var parent Comment
	if c.ParentID != nil {
		p, ok := s.comments[*c.ParentID]
		if !ok {
			return Comment{}, Invalid(ReasonInvalidParent, "parent comment does not exist")
		}
		if err := checkParentTarget(p, c); err != nil {
			return Comment{}, err
		}
		if err := checkReply(p, lim); err != nil {
			return Comment{}, err
		}
		parent = p
	}
	for _, prev := range s.comments {
		if isDuplicate(prev, c, lim.DuplicateWindow) {
			return Comment{}, errDuplicate
		}
	}

	if c.ParentID != nil {
		parent.ChildCount++
		parent.SortDate = c.SubmitDate
		s.comments[parent.ID] = parent
		c.Index = parent.ChildCount
	} else {
		c.Index = s.maxRootIndex(c.Target()) + 1
	}

	s.nextID++
	c.ID = s.nextID
	c.ChildCount = 0
	c.SpamReportCount = 0
	c.Replies = nil
	s.comments[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) maxRootIndex(t Target) int {
	top := 0
	for _, o := range s.comments {
		if o.ParentID == nil && o.Target() == t && o.Index > top {
			top = o.Index
		}
	}
	return top
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// subtree returns id and the ids of all its descendants.
func (s *InMemoryStore) subtree(id int64) []int64 {
	out := []int64{id}
	for i := 0; i < len(out); i++ {
		for _, o := range s.comments {
			if o.ParentID != nil && *o.ParentID == out[i] {
				out = append(out, o.ID)
			}
		}
	}
	return out
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}

	doomed := make(map[int64]struct{})
	for _, d := range s.subtree(id) {
		doomed[d] = struct{}{}
		delete(s.comments, d)
	}
	for k := range s.subs {
		if _, gone := doomed[k.commentID]; gone {
			delete(s.subs, k)
		}
	}
	for k := range s.unsubs {
		if _, gone := doomed[k.commentID]; gone {
			delete(s.unsubs, k)
		}
	}
	for k := range s.reports {
		if _, gone := doomed[k.commentID]; gone {
			delete(s.reports, k)
		}
	}

	if c.ParentID != nil {
		if p, ok := s.comments[*c.ParentID]; ok {
			p.ChildCount--
			s.comments[p.ID] = p
		}
	}
	for k, o := range s.comments {
		if o.Target() == c.Target() && sameParent(o.ParentID, c.ParentID) && o.Index > c.Index {
			o.Index--
			s.comments[k] = o
		}
	}
	return c, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64, f Filter) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok || !f.Match(c) {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func sortByDate(cs []Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].SortDate.Equal(cs[j].SortDate) {
			return cs[i].SortDate.After(cs[j].SortDate)
		}
		return cs[i].ID > cs[j].ID
	})
}

func sortByIndex(cs []Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Index != cs[j].Index {
			return cs[i].Index < cs[j].Index
		}
		return cs[i].ID < cs[j].ID
	})
}

func page(cs []Comment, limit, offset int) []Comment {
	if offset >= len(cs) {
		return []Comment{}
	}
	cs = cs[offset:]
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}

func (s *InMemoryStore) List(_ context.Context, q ListQuery) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Comment
	for _, c := range s.comments {
		if !q.Target.IsZero() && c.Target() != q.Target {
			continue
		}
		if q.ParentID != nil && !sameParent(c.ParentID, q.ParentID) {
			continue
		}
		if q.ParentID == nil && q.RootOnly && c.ParentID != nil {
			continue
		}
		if q.Filter.Match(c) {
			out = append(out, c)
		}
	}
	if q.Order == OrderIndex {
		sortByIndex(out)
	} else {
		sortByDate(out)
	}
	return page(out, q.Limit, q.Offset), nil
}

// Threaded mirrors the SQL join: for every root the reply with index
// child_count-N fills slot N. Replies are not filtered.
func (s *InMemoryStore) Threaded(_ context.Context, q ThreadQuery) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roots []Comment
	for _, c := range s.comments {
		if c.ParentID != nil || c.IsRemoved {
			continue
		}
		if !q.Target.IsZero() && c.Target() != q.Target {
			continue
		}
		if q.Filter.Match(c) {
			roots = append(roots, c)
		}
	}
	sortByDate(roots)
	roots = page(roots, q.Limit, q.Offset)

	byParent := make(map[int64]map[int]Comment)
	for _, c := range s.comments {
		if c.ParentID == nil {
			continue
		}
		if byParent[*c.ParentID] == nil {
			byParent[*c.ParentID] = make(map[int]Comment)
		}
		byParent[*c.ParentID][c.Index] = c
	}

	out := make([]Comment, len(roots))
	for i, r := range roots {
		r.Replies = make([]Comment, 0, q.ReplyLimit)
		for n := q.ReplyLimit - 1; n >= 0; n-- {
			if reply, ok := byParent[r.ID][r.ChildCount-n]; ok {
				r.Replies = append(r.Replies, reply)
			}
		}
		out[i] = r
	}
	return out, nil
}

func (s *InMemoryStore) Replies(_ context.Context, parentID int64, f Filter) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.comments[parentID]; !ok {
		return nil, ErrNotFound
	}
	out := []Comment{}
	for _, c := range s.comments {
		if c.ParentID != nil && *c.ParentID == parentID && f.Match(c) {
			out = append(out, c)
		}
	}
	sortByIndex(out)
	return out, nil
}

func (s *InMemoryStore) Thread(_ context.Context, id int64, f Filter) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	rootID := c.RootID()
	var replies []Comment
	for _, o := range s.comments {
		if o.ParentID != nil && *o.ParentID == rootID && f.Match(o) {
			replies = append(replies, o)
		}
	}
	sortByIndex(replies)

	out := []Comment{}
	if root, ok := s.comments[rootID]; ok && f.Match(root) {
		out = append(out, root)
	}
	return append(out, replies...), nil
}

func (s *InMemoryStore) Moderate(_ context.Context, ids []int64, u FlagUpdate) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Comment, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		c, ok := s.comments[id]
		if _, dup := seen[id]; !ok || dup {
			continue
		}
		seen[id] = struct{}{}
		u.apply(&c)
		s.comments[id] = c
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemoryStore) MarkNotified(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	c.EmailSentAt = &at
	s.comments[id] = c
	return nil
}

func (s *InMemoryStore) ThreadParticipants(_ context.Context, id int64, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	rootID := c.RootID()
	var thread []Comment
	for _, o := range s.comments {
		if o.ID == rootID || (o.ParentID != nil && *o.ParentID == rootID) {
			thread = append(thread, o)
		}
	}
	sort.Slice(thread, func(i, j int) bool { return thread[i].ID < thread[j].ID })
	if limit > 0 && len(thread) > limit {
		thread = thread[:limit]
	}
	users := make([]int64, len(thread))
	for i, t := range thread {
		users[i] = t.UserID
	}
	return distinctUsers(users), nil
}

func distinctUsers(ids []int64) []int64 {
	seen := make(map[int64]struct{})
	out := []int64{}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *InMemoryStore) VerifyIndexes(_ context.Context) ([]IndexViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type group struct {
		target   Target
		parentID int64
	}
	groups := make(map[group][]int)
	for _, c := range s.comments {
		g := group{target: c.Target()}
		if c.ParentID != nil {
			g.parentID = *c.ParentID
		}
		groups[g] = append(groups[g], c.Index)
	}
	for _, c := range s.comments {
		g := group{target: c.Target(), parentID: c.ID}
		if _, ok := groups[g]; !ok && c.ChildCount != 0 {
			groups[g] = []int{}
		}
	}

	var out []IndexViolation
	for g, indices := range groups {
		sort.Ints(indices)
		v := IndexViolation{Target: g.target, Indices: indices, ChildCount: len(indices)}
		if g.parentID != 0 {
			pid := g.parentID
			v.ParentID = &pid
			v.ChildCount = s.comments[pid].ChildCount
		}
		if !denseIndices(indices, v.ChildCount) {
			out = append(out, v)
		}
	}
	sortViolations(out)
	return out, nil
}

// denseIndices reports whether sorted indices are exactly 1..n with n == want.
func denseIndices(indices []int, want int) bool {
	if len(indices) != want {
		return false
	}
	for i, idx := range indices {
		if idx != i+1 {
			return false
		}
	}
	return true
}

func sortViolations(vs []IndexViolation) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Target != b.Target {
			if a.Target.ContentTypeID != b.Target.ContentTypeID {
				return a.Target.ContentTypeID < b.Target.ContentTypeID
			}
			return a.Target.ObjectPK < b.Target.ObjectPK
		}
		return deref(a.ParentID) < deref(b.ParentID)
	})
}

// Subscriptions

func (s *InMemoryStore) Subscribe(_ context.Context, userID, commentID int64) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	delete(s.unsubs, pairKey{userID, c.RootID()})
	return s.ensureSubscription(c, userID), nil
}

func (s *InMemoryStore) ensureSubscription(c Comment, userID int64) Subscription {
	k := pairKey{userID, c.ID}
	if sub, ok := s.subs[k]; ok {
		return sub
	}
	sub := Subscription{UserID: userID, CommentID: c.ID}
	if userID == c.UserID {
		at := c.SubmitDate
		sub.ReadAt = &at
	}
	s.subs[k] = sub
	return sub
}

func (s *InMemoryStore) Unsubscribe(_ context.Context, userID, commentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return ErrNotFound
	}
	s.unsubs[pairKey{userID, c.RootID()}] = struct{}{}
	return nil
}

func (s *InMemoryStore) EnsureSubscriptions(_ context.Context, commentID int64, userIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return ErrNotFound
	}
	for _, uid := range userIDs {
		s.ensureSubscription(c, uid)
	}
	return nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, userID int64, commentIDs []int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	n := 0
	for _, id := range commentIDs {
		k := pairKey{userID, id}
		sub, ok := s.subs[k]
		if !ok || sub.Read() {
			continue
		}
		t := at
		sub.ReadAt = &t
		s.subs[k] = sub
		n++
	}
	return n, nil
}

func (s *InMemoryStore) Subscriptions(_ context.Context, userID int64, unreadOnly bool) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Subscription{}
	for k, sub := range s.subs {
		if k.userID != userID || (unreadOnly && sub.Read()) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommentID < out[j].CommentID })
	return out, nil
}

func (s *InMemoryStore) Unsubscribed(_ context.Context, commentID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []int64{}
	for k := range s.unsubs {
		if k.commentID == commentID {
			out = append(out, k.userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Spam reports

func (s *InMemoryStore) AddSpamReport(_ context.Context, commentID, userID int64) (Comment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return Comment{}, false, ErrNotFound
	}
	k := pairKey{userID, commentID}
	if _, dup := s.reports[k]; dup {
		return c, false, nil
	}
	s.reports[k] = struct{}{}
	c.SpamReportCount++
	s.comments[commentID] = c
	return c, true, nil
}

func (s *InMemoryStore) SpamReports(_ context.Context, commentID int64) ([]SpamReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []SpamReport{}
	for k := range s.reports {
		if k.commentID == commentID {
			out = append(out, SpamReport{UserID: k.userID, CommentID: k.commentID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
