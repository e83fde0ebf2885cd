package ctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/threaded-comments/services/comments/internal/service"
	"github.com/example/threaded-comments/services/comments/internal/store"
)

type bulkFunc func(s *service.Service, ctx context.Context, a service.Actor, ids []int64) ([]store.Comment, error)

func bulkCommand(use, short string, fn bulkFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>[,<id>...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			as, _ := cmd.Flags().GetInt64("as")
			if as <= 0 {
				return errors.New("--as <staff user id> is required")
			}

			b, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			svc, cleanup, err := newService(cmd.Context(), b)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := fn(svc, cmd.Context(), service.Actor{UserID: as, Staff: true}, ids)
			if err != nil {
				return err
			}
			svc.Hooks().Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d comments updated\n", use, len(out), len(ids))
			return nil
		},
	}
	cmd.Flags().Int64("as", 0, "Staff user id recorded as the moderator")
	return cmd
}

func init() {
	RootCmd.AddCommand(
		bulkCommand("spam", "Mark comments as spam and remove them", (*service.Service).MarkSpam),
		bulkCommand("ham", "Clear the spam verdict and restore comments", (*service.Service).MarkHam),
	)
}
