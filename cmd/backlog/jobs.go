package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// jobFlags are the per-job options shared by enqueue and schedule.
type jobFlags struct {
	priority    int
	delay       time.Duration
	maxAttempts int
	backoff     string
	backoffBase time.Duration
	timeout     time.Duration
}

func (f *jobFlags) bind(cmd *cobra.Command) {
	d := job.DefaultOptions()
	fl := cmd.Flags()
	fl.IntVar(&f.priority, "priority", d.Priority, "priority, higher is served first")
	fl.DurationVar(&f.delay, "delay", d.Delay, "delay before the job becomes eligible")
	fl.IntVar(&f.maxAttempts, "max-attempts", d.MaxAttempts, "attempts before the job fails")
	fl.StringVar(&f.backoff, "backoff", string(d.Backoff.Kind), "retry backoff: fixed or exponential")
	fl.DurationVar(&f.backoffBase, "backoff-base", d.Backoff.BaseDelay, "retry backoff base delay")
	fl.DurationVar(&f.timeout, "timeout", d.Timeout, "handler timeout (0 means unlimited)")
}

func (f *jobFlags) options() ([]job.Option, error) {
	opts := []job.Option{
		job.WithPriority(f.priority),
		job.WithDelay(f.delay),
		job.WithMaxAttempts(f.maxAttempts),
		job.WithTimeout(f.timeout),
	}
	switch job.BackoffKind(f.backoff) {
	case job.BackoffFixed:
		opts = append(opts, job.WithFixedBackoff(f.backoffBase))
	case job.BackoffExponential:
		opts = append(opts, job.WithExponentialBackoff(f.backoffBase))
	default:
		return nil, fmt.Errorf("unknown backoff %q", f.backoff)
	}
	return opts, nil
}

// payloadArg returns the optional JSON payload argument.
func payloadArg(args []string, i int) ([]byte, error) {
	if len(args) <= i {
		return nil, nil
	}
	data := []byte(args[i])
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEnqueueCmd(s *settings) *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   "enqueue QUEUE TYPE [PAYLOAD]",
		Short: "Add a job to a queue",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := payloadArg(args, 2)
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

			jobID, err := rt.engine.AddJob(ctx, args[0], job.Type(args[1]), payload, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID.String())
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newGetCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "get QUEUE JOB_ID",
		Short: "Print a job record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			j, err := rt.engine.GetJob(ctx, args[0], jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		},
	}
}

func newStatsCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [QUEUE...]",
		Short: "Print index sizes per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if len(args) == 0 {
				all, err := rt.engine.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), all)
			}

			counts := make([]job.Counts, len(args))
			g, gctx := errgroup.WithContext(ctx)
			for i, q := range args {
				g.Go(func() error {
					c, err := rt.engine.GetQueueStats(gctx, q)
					counts[i] = c
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			out := make(map[string]job.Counts, len(args))
			for i, q := range args {
				out[q] = counts[i]
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
