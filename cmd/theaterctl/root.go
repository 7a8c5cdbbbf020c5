package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/theater-booking/internal/app"
	"github.com/iliyamo/theater-booking/internal/config"
	"github.com/iliyamo/theater-booking/internal/database"
	"github.com/iliyamo/theater-booking/internal/model"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "theaterctl",
		Short:         "Theater booking operations",
		Long:          `Maintenance commands for the theater booking service. Configuration is read from the same environment as the server.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(migrateCmd(), expireCmd(), capacityCmd(), renderCmd(), closeStartedCmd())
	return root
}

// withApp loads configuration, builds the application and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.App)
	log.SetOutput(cmd.ErrOrStderr())
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func expireCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Cancel bookings whose payment deadline has passed",
		Long:  `Runs one payment-timeout sweep without taking the scheduler lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Booking.ExpireOverdue(ctx, a.Clock.Now(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled=%d skipped=%d failed=%d\n", rep.Cancelled, rep.Skipped, rep.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum bookings to cancel")
	return cmd
}

func capacityCmd() *cobra.Command {
	var drafts bool
	cmd := &cobra.Command{
		Use:   "capacity SHOW_ID",
		Short: "Print seat usage for every session of a show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid show id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sessions, err := a.Sessions.ListByShow(ctx, showID, !drafts)
				if err != nil {
					return err
				}
				renderCapacity(cmd.OutOrStdout(), sessions)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&drafts, "drafts", false, "include draft and closed sessions")
	return cmd
}

// renderCapacity writes one row per session with the remaining seats of
// each pool.
func renderCapacity(w io.Writer, sessions []model.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Starts", "Venue", "Type", "Status", "Capacity", "Booked", "Public", "Partner", "School", "Free"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			s.StartsAt.Format("2006-01-02 15:04"),
			s.Venue,
			s.SessionType,
			s.Status,
			s.TotalCapacity,
			s.BookedSeats,
			s.PoolAvailable(model.PoolB2C),
			s.PoolAvailable(model.PoolPartner),
			s.PoolAvailable(model.PoolSchool),
			s.Available(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", "Sessions", len(sessions)})
	t.Style().Options.SeparateRows = false
	t.Render()
}

func renderCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "render DOCUMENT_ID",
		Short: "Write a stored quote or ticket PDF to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				d, err := a.Documents.GetByID(ctx, id)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = fmt.Sprintf("%s-%s.pdf", d.Kind, d.Reference)
				}
				if err := os.WriteFile(path, d.Content, 0o644); err != nil {
					return err
				}
				a.Log.WithFields(logrus.Fields{"document_id": d.ID, "sha256": d.SHA256}).Info("document written")
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default KIND-REFERENCE.pdf)")
	return cmd
}

func closeStartedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-started",
		Short: "Close published sessions that have already started",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				start := time.Now()
				n, err := a.Catalog.CloseStarted(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %d sessions in %s\n", n, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}
