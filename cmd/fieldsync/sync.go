package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [TYPE ID]",
	Short: "Show sync state of one entity or of the device",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("status takes no arguments or TYPE ID")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "status")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 2 {
			state, err := a.Status(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(state)
			return nil
		}

		s, err := a.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Synced:     %d\n", s.Synced)
		fmt.Printf("Pending:    %d\n", s.Pending)
		fmt.Printf("Conflicted: %d\n", s.Conflicted)
		fmt.Printf("Queued:     %d\n", s.Queued)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending changes in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "queue")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Queue(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, item := range items {
			flags := ""
			if item.Uncertain {
				flags = "  [uncertain]"
			}
			lastErr := ""
			if item.LastError != nil {
				lastErr = "  " + item.LastError.Message
			}
			fmt.Printf("%-6d  %-6s  %s/%s  attempts:%d%s%s\n",
				item.Seq,
				item.Operation,
				item.EntityType,
				item.EntityID,
				item.AttemptCount,
				flags,
				lastErr,
			)
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List entities waiting for conflict resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "conflicts")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Conflicts(ctx)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s/%s  %s on %s: %s\n", rec.Type, rec.ID, rec.Conflict.Kind, rec.Conflict.Operation, rec.Conflict.Message)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve TYPE ID",
	Short: "Resolve a conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acceptRemote, _ := cmd.Flags().GetBool("accept-remote")
		token, _ := cmd.Flags().GetString("token")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "resolve")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Resolve(ctx, args[0], args[1], acceptRemote, token)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Printf("%s/%s no longer exists on the server; removed locally\n", args[0], args[1])
			return nil
		}
		fmt.Printf("%s/%s: %s\n", rec.Type, rec.ID, rec.State)
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay one batch of pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "drain")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Attempted %d: %d confirmed, %d retried, %d conflicted; %d remaining (%s)\n",
			report.Attempted,
			report.Confirmed,
			report.Retried,
			report.Conflicted,
			report.Remaining,
			report.Reason,
		)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Synchronize in the background until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "run")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View drain history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No drains recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt != nil {
				duration = run.FinishedAt.Sub(run.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-10s  ok:%d retry:%d conflict:%d left:%d  %s\n",
				run.ID,
				run.Trigger,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Reason,
				run.Confirmed,
				run.Retried,
				run.Conflicted,
				run.Remaining,
				duration,
			)
		}
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot PATH",
	Short: "Copy the local cache to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Snapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", args[0])
		return nil
	},
}
