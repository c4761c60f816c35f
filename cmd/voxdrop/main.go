package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"voxdrop/internal/app"
	"voxdrop/internal/config"
	"voxdrop/internal/logging"
	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
	"voxdrop/internal/report"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voxdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "voxdrop",
		Short:        "VoxDrop pipeline admin CLI",
		Long:         "Inspect submissions, resolve quarantined items, and export the audit ledger.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newListCmd(),
		newShowCmd(),
		newReviewCmd(),
		newExportCmd(),
	)
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Environment, "error")
	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(ctx, deps)
}

func newListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, deps *app.App) error {
				subs, err := deps.Submissions.List(ctx, model.Status(status), limit)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Sender", "Destination", "Status", "Reason", "Attempts", "Cost", "Received"})
				for _, sub := range subs {
					t.AppendRow(table.Row{
						sub.ID, sub.SenderEmail, sub.Destination, sub.Status,
						sub.RejectionReason, sub.Attempts,
						fmt.Sprintf("%.4f", sub.ProcessingCost),
						sub.ReceivedAt.Format(time.RFC3339),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show one submission with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, deps *app.App) error {
				sub, err := deps.Submissions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("ID:          %s\n", sub.ID)
				fmt.Printf("Sender:      %s -> %s\n", sub.SenderEmail, sub.Destination)
				fmt.Printf("Status:      %s\n", sub.Status)
				if sub.RejectionReason != "" {
					fmt.Printf("Reason:      %s\n", sub.RejectionReason)
					if r, ok := rejection.Lookup(rejection.Code(sub.RejectionReason)); ok {
						fmt.Printf("Guidance:    %s\n", r.Guidance)
					}
				}
				if sub.Confidence != nil {
					fmt.Printf("Confidence:  %.3f\n", *sub.Confidence)
				}
				if len(sub.ModelsUsed) > 0 {
					fmt.Printf("Models:      %s\n", strings.Join(sub.ModelsUsed, ", "))
				}
				fmt.Printf("Cost:        %.4f USD (advanced AI: %v)\n", sub.ProcessingCost, sub.UsedAdvancedAI)
				fmt.Printf("Notified:    %v\n", sub.Notified)

				entries, err := deps.Ledger.ListBySubmission(ctx, sub.ID)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Attempt", "From", "To", "Reason", "Cost", "At"})
				for _, entry := range entries {
					t.AppendRow(table.Row{
						entry.Attempt, entry.PrevStatus, entry.NewStatus, entry.Reason,
						fmt.Sprintf("%.4f", entry.Cost), entry.CreatedAt.Format(time.RFC3339),
					})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Resolve quarantined submissions",
	}
	var reason string
	approve := &cobra.Command{
		Use:   "approve <submission-id>",
		Short: "Approve a quarantined submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, deps *app.App) error {
				sub, err := deps.Pipeline.Resolve(ctx, args[0], true, "")
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %s\n", sub.ID, sub.Status)
				return nil
			})
		},
	}
	reject := &cobra.Command{
		Use:   "reject <submission-id>",
		Short: "Reject a quarantined submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, deps *app.App) error {
				sub, err := deps.Pipeline.Resolve(ctx, args[0], false, rejection.Code(reason))
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %s (%s)\n", sub.ID, sub.Status, sub.RejectionReason)
				return nil
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", string(rejection.InappropriateContent), "Rejection reason code")
	cmd.AddCommand(approve, reject)
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string
	var days int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit ledger to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, deps *app.App) error {
				to := time.Now().UTC()
				from := to.AddDate(0, 0, -days)
				exporter := report.NewExporter(deps.Ledger)
				f, err := exporter.Export(ctx, from, to)
				if err != nil {
					return err
				}
				if err := f.SaveAs(out); err != nil {
					return fmt.Errorf("save workbook: %w", err)
				}
				fmt.Printf("ledger exported to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "voxdrop-ledger.xlsx", "Output file")
	cmd.Flags().IntVar(&days, "days", 30, "How many days back to export")
	return cmd
}
