package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/threaded-comments/services/comments/internal/store"
)

// BeforeCreateFunc may inspect or adjust a comment before it is stored. A
// non-nil error rejects the comment.
type BeforeCreateFunc func(ctx context.Context, c *store.Comment) error

// AfterCreateFunc observes a stored comment. Its error is only logged.
type AfterCreateFunc func(ctx context.Context, c store.Comment) error

type beforeHook struct {
	name string
	fn   BeforeCreateFunc
}

type afterHook struct {
	name string
	fn   AfterCreateFunc
}

// Hooks is the explicit registry of comment lifecycle callbacks.
type Hooks struct {
	log *zap.Logger

	mu     sync.RWMutex
	before []beforeHook
	after  []afterHook

	wg sync.WaitGroup
}

func NewHooks(log *zap.Logger) *Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hooks{log: log.Named("hooks")}
}

// OnBeforeCreate appends a hook; hooks run in registration order.
func (h *Hooks) OnBeforeCreate(name string, fn BeforeCreateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, beforeHook{name: name, fn: fn})
}

// OnAfterCreate appends a hook that runs in its own goroutine.
func (h *Hooks) OnAfterCreate(name string, fn AfterCreateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, afterHook{name: name, fn: fn})
}

// runBefore stops at the first rejection. Errors that are not already
// validation errors are reported as ReasonRejected.
func (h *Hooks) runBefore(ctx context.Context, c *store.Comment) error {
	h.mu.RLock()
	hooks := h.before
	h.mu.RUnlock()

	for _, hk := range hooks {
		if err := hk.fn(ctx, c); err != nil {
			if _, ok := store.IsValidation(err); ok {
				return err
			}
			h.log.Info("comment rejected by hook", zap.String("hook", hk.name), zap.Error(err))
			return fmt.Errorf("%s: %w", hk.name, store.Invalid(store.ReasonRejected, err.Error()))
		}
	}
	return nil
}

// runAfter detaches every hook from the request: a slow or failing hook never
// affects the committed comment.
func (h *Hooks) runAfter(ctx context.Context, c store.Comment) {
	h.mu.RLock()
	hooks := h.after
	h.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, hk := range hooks {
		h.wg.Add(1)
		go func(hk afterHook) {
			defer h.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.log.Error("after-create hook panicked",
						zap.String("hook", hk.name), zap.Int64("comment_id", c.ID), zap.Any("panic", r))
				}
			}()
			if err := hk.fn(ctx, c); err != nil {
				h.log.Warn("after-create hook failed",
					zap.String("hook", hk.name), zap.Int64("comment_id", c.ID), zap.Error(err))
			}
		}(hk)
	}
}

// Wait blocks until every after-create hook started so far has returned.
func (h *Hooks) Wait() {
	h.wg.Wait()
}
