package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"quizlink/service/offline"
	"quizlink/tools/decode"
)

type queueView interface {
	Snapshot() []offline.Action
	ClearAll(ctx context.Context) error
	ClearOldActions(ctx context.Context, maxAge time.Duration) (int, error)
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the persisted offline action queue",
	}
	cmd.AddCommand(queueLsCmd(), queueClearCmd(), queuePruneCmd())
	return cmd
}

func queueLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List queued actions, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(_ context.Context, q queueView) error {
				return printActions(cmd.OutOrStdout(), q.Snapshot(), time.Now())
			})
		},
	}
}

func printActions(w io.Writer, actions []offline.Action, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTYPE\tAGE\tRETRIES")
	for _, a := range actions {
		typ := "-"
		if a.Type == offline.ActionSendEnvelope {
			typ = decode.String(a.Payload, "type", "-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.Type, typ, a.Age(now).Truncate(time.Second), a.RetryCount)
	}
	return tw.Flush()
}

func queueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(ctx context.Context, q queueView) error {
				n := len(q.Snapshot())
				if err := q.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "cleared %d actions\n", n)
				return nil
			})
		},
	}
}

func queuePruneCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop actions older than --max-age (default offline.maxAge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(ctx context.Context, q queueView) error {
				age := maxAge
				if age <= 0 {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					age = cfg.Offline.MaxAge
				}
				n, err := q.ClearOldActions(ctx, age)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "pruned %d actions older than %s\n", n, age)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "age threshold")
	return cmd
}
