package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ashureev/childassess/internal/store"
	"github.com/spf13/cobra"
)

type options struct {
	dbPath  string
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "assessctl",
		Short:         "Inspect children, sessions and screening transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/app.db"), "path to the SQLite database")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")

	root.AddCommand(newUsersCmd(opts), newHistoryCmd(opts), newTranscriptCmd(opts))
	return root
}

func newUsersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List every child",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(opts, func(ctx context.Context, repo store.Repository) error {
				users, err := repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), users)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tAGE\tCREATED")
				for _, u := range users {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", u.ID, u.Name, u.Age, u.CreatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		name      string
		age       int
		limit     int
		completed bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the sessions of one child, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(opts, func(ctx context.Context, repo store.Repository) error {
				users, err := repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				var userID int64
				for _, u := range users {
					if u.SameIdentity(name, age) {
						userID = u.ID
					}
				}
				if userID == 0 {
					return fmt.Errorf("no child named %q aged %d", name, age)
				}

				history, err := repo.QueryUserHistory(ctx, store.HistoryQuery{
					UserID: userID, CompletedOnly: completed, Limit: limit,
				})
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tTYPE\tSTARTED\tCATEGORY\tSUMMARY")
				for _, h := range history {
					category := h.Category
					if category == "" {
						category = "pending"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.SessionID, h.Kind, h.Timestamp.Format(time.DateTime), category, h.Summary)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "child name")
	cmd.Flags().IntVar(&age, "age", 0, "child age")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to show (0 = all)")
	cmd.Flags().BoolVar(&completed, "completed", false, "only sessions with a final result")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("age")
	return cmd
}

func newTranscriptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript SESSION_ID",
		Short: "Print the chat transcript of a screening session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(opts, func(ctx context.Context, repo store.Repository) error {
				sess, err := repo.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if sess == nil {
					return errors.New("session not found")
				}
				turns, err := repo.ListChatTurns(ctx, sess.ID)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), turns)
				}
				out := cmd.OutOrStdout()
				for _, t := range turns {
					fmt.Fprintf(out, "%2d %-4s %s\n", t.Ordinal, t.Role, t.Content)
				}
				if sess.HasResult() {
					fmt.Fprintf(out, "\nResult: %s\n", *sess.Category)
				}
				return nil
			})
		},
	}
}

func withRepo(opts *options, fn func(ctx context.Context, repo store.Repository) error) error {
	if _, err := os.Stat(opts.dbPath); err != nil {
		return fmt.Errorf("open database %s: %w", opts.dbPath, err)
	}
	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, repo)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
