package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newInvalidateCmd(s *settings) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "invalidate PATTERN",
		Short: "Delete matching cache keys and broadcast the invalidation",
		Long: `Delete Redis keys matching PATTERN and publish the request on the
invalidation channel so running instances drop their local copies.
Requires the Redis store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			n, err := rt.engine.Invalidate(ctx, args[0], source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys matching %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "source recorded on the broadcast")
	return cmd
}
