package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/spf13/cobra"
)

func newSessionCmd(root *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
	}
	cmd.PersistentFlags().BoolVar(&strict, "strict", false, "Use strict readiness requirements")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the bounded session snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), root.dbPath, args[0], func(repo store.Repository, id string) error {
				s, err := store.LoadSession(cmd.Context(), repo, id)
				if err != nil {
					return err
				}
				gate := workflow.Gate{Strict: strict}
				return write(cmd.OutOrStdout(), root.output, workflow.BuildSnapshot(s, gate.Compute(s), workflow.DefaultSnapshotMaxBytes))
			})
		},
	}

	readiness := &cobra.Command{
		Use:   "readiness <session-id>",
		Short: "Print the readiness checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), root.dbPath, args[0], func(repo store.Repository, id string) error {
				s, err := store.LoadSession(cmd.Context(), repo, id)
				if err != nil {
					return err
				}
				gate := workflow.Gate{Strict: strict}
				return write(cmd.OutOrStdout(), root.output, gate.Compute(s))
			})
		},
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions idle for longer than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withSession(cmd.Context(), root.dbPath, "", func(repo store.Repository, _ string) error {
				n, err := repo.DeleteSessionsBefore(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Idle duration after which a session is deleted")

	cmd.AddCommand(show, readiness, purge)
	return cmd
}

func withSession(ctx context.Context, dbPath, id string, fn func(store.Repository, string) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return fn(repo, id)
}
