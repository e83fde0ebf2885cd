// Package contenttypes maps "app_label.model" names to content type ids and
// caches the comment allow-list for the whole process.
package contenttypes

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Resolver turns labels into ids. Unknown labels are simply absent from the result.
type Resolver interface {
	Resolve(ctx context.Context, labels []string) (map[string]int64, error)
}

// Static resolves from a fixed table.
type Static map[string]int64

func (s Static) Resolve(_ context.Context, labels []string) (map[string]int64, error) {
	out := make(map[string]int64, len(labels))
	for _, l := range labels {
		if id, ok := s[l]; ok {
			out[l] = id
		}
	}
	return out, nil
}

// Sequential numbers labels 1..n in order, skipping repeats. It backs the
// in-memory setup where there is no content type table.
func Sequential(labels ...string) Static {
	out := make(Static, len(labels))
	for _, l := range normalize(labels) {
		out[l] = int64(len(out) + 1)
	}
	return out
}

// SplitLabel splits "app_label.model".
func SplitLabel(label string) (app, model string, err error) {
	app, model, ok := strings.Cut(strings.ToLower(strings.TrimSpace(label)), ".")
	if !ok || app == "" || model == "" || strings.Contains(model, ".") {
		return "", "", fmt.Errorf("content type %q must look like app_label.model", label)
	}
	return app, model, nil
}

// Registry caches the resolved allow-list. It loads lazily on first use and
// is invalidated by Reload.
type Registry struct {
	resolver Resolver

	mu      sync.RWMutex
	allowed []string
	extra   []string
	ids     map[string]int64
	loaded  bool
}

// NewRegistry builds a registry for the allowed labels. extra labels are
// resolved alongside but are not part of the allow-list.
func NewRegistry(r Resolver, allowed []string, extra ...string) *Registry {
	return &Registry{resolver: r, allowed: normalize(allowed), extra: normalize(extra)}
}

func normalize(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// Reload replaces the configured labels and drops the cache.
func (r *Registry) Reload(allowed []string, extra ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed = normalize(allowed)
	r.extra = normalize(extra)
	r.ids = nil
	r.loaded = false
}

func (r *Registry) load(ctx context.Context) (map[string]int64, []string, error) {
	r.mu.RLock()
	if r.loaded {
		ids, allowed := r.ids, r.allowed
		r.mu.RUnlock()
		return ids, allowed, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.ids, r.allowed, nil
	}
	labels := append(slices.Clone(r.allowed), r.extra...)
	ids, err := r.resolver.Resolve(ctx, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve content types: %w", err)
	}
	r.ids, r.loaded = ids, true
	return r.ids, r.allowed, nil
}

// IDs returns the allow-listed content type ids in configuration order.
// Labels that do not resolve are skipped.
func (r *Registry) IDs(ctx context.Context) ([]int64, error) {
	ids, allowed, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(allowed))
	for _, l := range allowed {
		if id, ok := ids[l]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Allowed reports whether comments may target content type id.
func (r *Registry) Allowed(ctx context.Context, id int64) (bool, error) {
	ids, err := r.IDs(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, id), nil
}

// ID resolves a configured label, allow-listed or extra.
func (r *Registry) ID(ctx context.Context, label string) (int64, bool, error) {
	ids, _, err := r.load(ctx)
	if err != nil {
		return 0, false, err
	}
	id, ok := ids[strings.ToLower(strings.TrimSpace(label))]
	return id, ok, nil
}
