package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/backlog/job"
)

func newScheduleCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring job definitions",
	}
	cmd.AddCommand(newScheduleAddCmd(s), newScheduleRemoveCmd(s), newScheduleListCmd(s))
	return cmd
}

func newScheduleAddCmd(s *settings) *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   "add QUEUE TYPE SCHEDULE [PAYLOAD]",
		Short: "Create or replace a recurring definition",
		Example: `  backlog schedule add reports report.build "0 9 * * *"
  backlog schedule add default cache.invalidate "@every 10m" '{"pattern":"dashboard:*"}'`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := payloadArg(args, 3)
			if err != nil {
				return err
			}
			opts, err := f.options()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			def, err := rt.engine.ScheduleRecurring(ctx, args[0], job.Type(args[1]), args[2], payload, opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), def)
		},
	}
	f.bind(cmd)
	return cmd
}

func newScheduleRemoveCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove QUEUE TYPE",
		Short: "Delete a recurring definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if err := rt.engine.UnscheduleRecurring(ctx, args[0], job.Type(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s:%s\n", args[0], args[1])
			return nil
		},
	}
}

func newScheduleListCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every recurring definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			defs, err := rt.engine.ListRecurring(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), defs)
		},
	}
}
