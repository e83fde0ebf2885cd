// Package config holds the comment policy: reply limits, moderation switches
// and the content-type allow-list. It is read with viper from defaults, an
// optional YAML file (TCC_CONFIG) and TCC_* environment variables, and can be
// reloaded while the service runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/services/comments/internal/store"
)

// Policy is one consistent snapshot of the comment settings.
type Policy struct {
	MaxReplies         int           `mapstructure:"max_replies"`
	MaxDepth           int           `mapstructure:"max_depth"`
	ReplyLimit         int           `mapstructure:"reply_limit"`
	DuplicateWindow    time.Duration `mapstructure:"duplicate_window"`
	Moderated          bool          `mapstructure:"moderated"`
	SpamFiltering      bool          `mapstructure:"spam_filtering"`
	CommentMaxLength   int           `mapstructure:"comment_max_length"`
	ContentTypes       []string      `mapstructure:"content_types"`
	ProfileContentType string        `mapstructure:"profile_content_type"`
	PostRate           float64       `mapstructure:"post_rate"`
	PostBurst          int           `mapstructure:"post_burst"`
}

// Limits projects the policy onto the store limits.
func (p Policy) Limits() store.Limits {
	return store.Limits{MaxReplies: p.MaxReplies, MaxDepth: p.MaxDepth, DuplicateWindow: p.DuplicateWindow}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_replies", 100)
	v.SetDefault("max_depth", 2)
	v.SetDefault("reply_limit", 3)
	v.SetDefault("duplicate_window", 2*time.Minute)
	v.SetDefault("moderated", false)
	v.SetDefault("spam_filtering", false)
	v.SetDefault("comment_max_length", 3000)
	v.SetDefault("content_types", []string{})
	v.SetDefault("profile_content_type", "auth.user")
	v.SetDefault("post_rate", 0.2)
	v.SetDefault("post_burst", 5)
}

func (p *Policy) normalize() error {
	if p.MaxReplies < 1 {
		return errors.New("max_replies must be at least 1")
	}
	// Only roots and their direct replies exist.
	if p.MaxDepth < 1 {
		p.MaxDepth = 1
	}
	if p.MaxDepth > 2 {
		p.MaxDepth = 2
	}
	if p.ReplyLimit < 0 {
		return errors.New("reply_limit must not be negative")
	}
	if p.ReplyLimit > p.MaxReplies {
		p.ReplyLimit = p.MaxReplies
	}
	if p.DuplicateWindow < 0 {
		return errors.New("duplicate_window must not be negative")
	}
	if p.CommentMaxLength < 1 {
		return errors.New("comment_max_length must be at least 1")
	}
	labels := p.ContentTypes[:0]
	for _, l := range p.ContentTypes {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if strings.Count(l, ".") != 1 {
			return fmt.Errorf("content type %q must look like app_label.model", l)
		}
		labels = append(labels, l)
	}
	p.ContentTypes = labels
	p.ProfileContentType = strings.ToLower(strings.TrimSpace(p.ProfileContentType))
	return nil
}

// Manager owns the live policy.
type Manager struct {
	v   *viper.Viper
	log *zap.Logger
	cur atomic.Pointer[Policy]

	mu        sync.Mutex
	listeners []func(Policy)
}

// Load reads the policy using the TCC_CONFIG file when it is set.
func Load(log *zap.Logger) (*Manager, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("TCC_CONFIG")), log)
}

// LoadFile reads the policy from path (optional) plus environment overrides.
func LoadFile(path string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	m := &Manager{v: v, log: log.Named("config")}
	p, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.cur.Store(&p)
	return m, nil
}

func (m *Manager) decode() (Policy, error) {
	var p Policy
	if err := m.v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Current returns the policy in force.
func (m *Manager) Current() Policy {
	return *m.cur.Load()
}

// Limits returns the store limits in force; it satisfies store.LimitsFunc.
func (m *Manager) Limits() store.Limits {
	return m.Current().Limits()
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(Policy)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Watch reloads the policy whenever the config file changes. It is a no-op
// when no file was loaded.
func (m *Manager) Watch() {
	if m.v.ConfigFileUsed() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		m.reload()
	})
	m.v.WatchConfig()
}

// reload swaps in the freshly read settings. A broken file keeps the previous
// policy.
func (m *Manager) reload() {
	p, err := m.decode()
	if err != nil {
		m.log.Error("policy reload rejected", zap.Error(err))
		return
	}
	m.cur.Store(&p)
	m.log.Info("policy reloaded",
		zap.Int("max_replies", p.MaxReplies),
		zap.Int("reply_limit", p.ReplyLimit),
		zap.Bool("spam_filtering", p.SpamFiltering),
		zap.Strings("content_types", p.ContentTypes),
	)

	m.mu.Lock()
	fns := append([]func(Policy){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}
