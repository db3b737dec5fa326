package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the durable retry queue",
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queueDropCmd)
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show spooled entries by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(env *cliEnv) error {
			snapshot := env.queue.Snapshot(time.Now())
			total := 0
			for _, entries := range snapshot {
				total += len(entries)
			}
			fmt.Printf("%d entr%s spooled\n", total, pluralY(total))
			for _, state := range []queue.State{queue.StateReady, queue.StateWaiting, queue.StateExhausted} {
				entries := snapshot[state]
				if len(entries) == 0 {
					continue
				}
				fmt.Printf("\n%s (%d):\n", state, len(entries))
				for _, e := range entries {
					fmt.Printf("  %s  records=%d attempts=%d", e.ID, len(e.Records), e.Attempts)
					if e.LastError != "" {
						fmt.Printf("  last_error=%q", e.LastError)
					}
					fmt.Println()
				}
			}
			return nil
		})
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <entry-id>",
	Short: "Reset an exhausted entry for another retry cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(env *cliEnv) error {
			if err := env.queue.Requeue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("entry %s requeued\n", args[0])
			return nil
		})
	},
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <entry-id>",
	Short: "Permanently delete a spooled entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(func(env *cliEnv) error {
			if err := env.queue.Drop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("entry %s dropped\n", args[0])
			return nil
		})
	},
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
