package ctl

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/threaded-comments/services/comments/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the comment schema",
	Long:  "Create the comment tables and indexes. Safe to run repeatedly.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()
		if b.Pool == nil {
			return errors.New("migrate needs a Postgres database")
		}
		if err := store.Migrate(cmd.Context(), b.Pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}
