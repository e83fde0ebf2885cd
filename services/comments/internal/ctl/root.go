// Package ctl implements commentsctl, the operator CLI for the comment store.
package ctl

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/threaded-comments/internal/platform/db"
	"github.com/example/threaded-comments/internal/platform/events"
	"github.com/example/threaded-comments/internal/platform/logging"
	"github.com/example/threaded-comments/internal/platform/natsconn"
	policycfg "github.com/example/threaded-comments/services/comments/internal/config"
	"github.com/example/threaded-comments/services/comments/internal/contenttypes"
	"github.com/example/threaded-comments/services/comments/internal/notify"
	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

var RootCmd = &cobra.Command{
	Use:           "commentsctl",
	Short:         "Operate the threaded comment store",
	Long:          "Apply the schema, check sibling indexes and bulk-moderate spam",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().String("database-url", "", "Postgres DSN (default $DATABASE_URL)")
	RootCmd.PersistentFlags().String("log-level", "warn", "Log level")
	_ = viper.BindPFlag("database_url", RootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("log_level", RootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindEnv("database_url", "DATABASE_URL")
	_ = viper.BindEnv("nats_url", "NATS_URL")
}

// Execute runs the CLI.
func Execute() error {
	return RootCmd.Execute()
}

// backend is an open comment store plus its pool when it is Postgres.
type backend struct {
	Store store.Store
	Pool  *pgxpool.Pool
	Log   *zap.Logger
	Close func()
}

// connect opens the configured database. Tests swap it out.
var connect = func(ctx context.Context) (*backend, error) {
	log, err := logging.New(viper.GetString("log_level"), "development")
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, viper.GetString("database_url"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &backend{
		Store: store.NewPostgresStore(pool, nil),
		Pool:  pool,
		Log:   log,
		Close: pool.Close,
	}, nil
}

// newService wires a service for operator actions. Held-back notifications
// are only released when NATS is reachable, so a CLI run never stamps
// email_sent_at without handing the fan-out to the worker.
func newService(ctx context.Context, b *backend) (*service.Service, func(), error) {
	policy, err := policycfg.Load(b.Log)
	if err != nil {
		return nil, nil, err
	}
	p := policy.Current()
	labels := append(slices.Clone(p.ContentTypes), p.ProfileContentType)

	var resolver contenttypes.Resolver = contenttypes.Sequential(labels...)
	if b.Pool != nil {
		resolver = contenttypes.NewPostgresResolver(b.Pool)
	}
	registry := contenttypes.NewRegistry(resolver, p.ContentTypes, p.ProfileContentType)

	opts := service.Options{
		Store:        b.Store,
		Policy:       policy,
		ContentTypes: registry,
		Permissions: service.DefaultPermissions{ProfileType: func(ctx context.Context) (int64, bool) {
			id, ok, err := registry.ID(ctx, p.ProfileContentType)
			return id, ok && err == nil
		}},
		Logger: b.Log,
	}
	cleanup := func() {}
	if url := viper.GetString("nats_url"); url != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: url, Name: "commentsctl"})
		if err != nil {
			return nil, nil, err
		}
		js, err := natsconn.EnsureStream(nc, events.StreamName, events.StreamSubjects)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		opts.Dispatcher = notify.EventDispatcher{Pub: events.New(js, b.Log)}
		cleanup = nc.Close
	}
	return service.New(opts), cleanup, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid comment id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no comment ids given")
	}
	return ids, nil
}
