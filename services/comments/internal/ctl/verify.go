package ctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check sibling indexes",
	Long:  "Report every sibling group whose indexes are not exactly 1..child_count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		vs, err := b.Store.VerifyIndexes(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(vs) == 0 {
			fmt.Fprintln(out, "indexes ok")
			return nil
		}
		for _, v := range vs {
			parent := "root"
			if v.ParentID != nil {
				parent = fmt.Sprintf("parent %d", *v.ParentID)
			}
			fmt.Fprintf(out, "%s (content type %d, object %d): child_count=%d indexes=%v\n",
				parent, v.Target.ContentTypeID, v.Target.ObjectPK, v.ChildCount, v.Indices)
		}
		return fmt.Errorf("%d sibling groups out of order", len(vs))
	},
}

func init() {
	RootCmd.AddCommand(verifyCmd)
}
