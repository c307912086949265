// Command backlog runs a job worker and offers operator commands against
// a backlog store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	s := defaultSettings()

	root := &cobra.Command{
		Use:           "backlog",
		Short:         "Multi-queue background job engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.resolve(cmd)
		},
	}
	s.bindFlags(root)

	root.AddCommand(
		newWorkerCmd(s),
		newEnqueueCmd(s),
		newGetCmd(s),
		newStatsCmd(s),
		newScheduleCmd(s),
		newInvalidateCmd(s),
	)
	return root
}
