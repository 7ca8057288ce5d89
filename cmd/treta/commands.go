package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"treta/internal/app"
	"treta/internal/db"
	"treta/internal/domain"
	"treta/internal/migrate"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event consumer, schedulers and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, app.Options{Version: version, Log: log})
			if err != nil {
				return err
			}
			defer a.Close()
			ln, err := a.Listen()
			if err != nil {
				return err
			}
			log.Info("treta started", zap.String("version", version), zap.String("data_dir", cfg.DataDir),
				zap.String("autonomy_mode", a.Policy.Mode()))
			return a.Run(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := db.EnsureDataDir(cfg.DataDir); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{DataDir: cfg.DataDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			current, err := migrate.CurrentVersion(conn)
			if err != nil {
				return err
			}
			latest, err := migrate.Latest()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"version": current, "latest": latest})
			}
			fmt.Fprintf(out, "schema at version %d (latest %d)\n", current, latest)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle counts, pending actions and autonomy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pending, err := a.Repo.CountStrategyActions(ctx, domain.ActionPendingConfirmation)
				if err != nil {
					return err
				}
				report, err := a.Policy.Report(ctx)
				if err != nil {
					return err
				}
				integrity := a.Engine.Integrity()
				status := map[string]any{
					"state":              string(a.Dispatcher.Machine.State()),
					"opportunities":      len(a.Stores.Opportunities.Items()),
					"proposals":          integrity.Counts.Proposals,
					"plans":              integrity.Counts.Plans,
					"launches":           integrity.Counts.Launches,
					"integrity":          integrity.Status,
					"pending_actions":    pending,
					"autonomy_mode":      report.Mode,
					"auto_executed_24h":  report.AutoExecutedLast24h,
					"autonomy_remaining": report.RemainingBudget,
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Key", "Value"})
				for _, k := range []string{"state", "opportunities", "proposals", "plans", "launches", "integrity",
					"pending_actions", "autonomy_mode", "auto_executed_24h", "autonomy_remaining"} {
					tw.AppendRow(table.Row{k, status[k]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actions", Short: "Strategy actions"}
	cmd.AddCommand(actionsListCmd(), actionsExecuteCmd(), actionsRejectCmd())
	return cmd
}

func actionsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategy actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok := remote(); ok {
				if status != domain.ActionPendingConfirmation {
					return errors.New("--api-url only serves pending actions")
				}
				items, err := c.PendingActions(cmd.Context())
				if err != nil {
					return err
				}
				return printActions(len(items), func(i int) table.Row {
					return table.Row{items[i].ID, items[i].Type, items[i].TargetID, items[i].Status, items[i].RiskLevel, items[i].ExpectedImpactScore}
				}, items)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListStrategyActions(ctx, status)
				if err != nil {
					return err
				}
				return printActions(len(items), func(i int) table.Row {
					return table.Row{items[i].ID, items[i].Type, items[i].TargetID, items[i].Status, items[i].RiskLevel, items[i].ExpectedImpactScore}
				}, items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.ActionPendingConfirmation, "status filter (empty for all)")
	return cmd
}

func printActions(n int, row func(int) table.Row, raw any) error {
	if viper.GetBool("json") {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Type", "Target", "Status", "Risk", "Impact"})
	for i := 0; i < n; i++ {
		tw.AppendRow(row(i))
	}
	tw.Render()
	return nil
}

func actionsExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <action-id>",
		Short: "Confirm and run a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok := remote(); ok {
				res, err := c.ExecuteAction(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Executor.Execute(ctx, args[0], domain.ActionExecuted)
				if err != nil {
					return err
				}
				if _, err := a.Drain(ctx); err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func actionsRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <action-id>",
		Short: "Reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok := remote(); ok {
				res, err := c.RejectAction(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Executor.Reject(ctx, args[0])
				if err != nil {
					return err
				}
				if _, err := a.Drain(ctx); err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func decisionsCmd() *cobra.Command {
	var decisionType string
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show recent decision logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok := remote(); ok {
				items, err := c.DecisionLogs(cmd.Context(), limit, decisionType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Created", "Type", "Decision", "Policy", "Status", "Reason"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.CreatedAt, d.DecisionType, d.Decision, d.PolicyName, d.Status, d.Reason})
				}
				tw.Render()
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListDecisionLogs(ctx, limit, decisionType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Created", "Type", "Decision", "Policy", "Status", "Reason"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.CreatedAt, d.DecisionType, d.Decision, d.PolicyName, d.Status, d.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&decisionType, "type", "", "decision type (autonomy, strategy_action, opportunity)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func integrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Report lifecycle integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c, ok := remote(); ok {
				res, err := c.Integrity(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report := a.Engine.Integrity()
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Fprintf(out, "status: %s (%d proposals, %d plans, %d launches)\n",
					report.Status, report.Counts.Proposals, report.Counts.Plans, report.Counts.Launches)
				if len(report.Issues) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Type", "Severity", "ID"})
				for _, is := range report.Issues {
					tw.AppendRow(table.Row{is.Type, is.Severity, is.ID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Bus events on a running instance"}
	cmd.AddCommand(eventSendCmd())
	return cmd
}

func eventSendCmd() *cobra.Command {
	var payload, eventID string
	cmd := &cobra.Command{
		Use:   "send <type>",
		Short: "Publish an event through the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &body); err != nil {
					return fmt.Errorf("--payload must be a JSON object: %w", err)
				}
			}
			c, err := client()
			if err != nil {
				return err
			}
			res, err := c.PublishEvent(cmd.Context(), args[0], body, eventID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "event payload as a JSON object")
	cmd.Flags().StringVar(&eventID, "event-id", "", "idempotency key sent as X-Event-Id")
	return cmd
}

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "Scheduled jobs"}
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Run the daily scan if it is due and handle the resulting events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pushed, err := a.Daily.Tick(ctx)
				if err != nil {
					return err
				}
				handled, err := a.Drain(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"scan_pushed": pushed, "events_handled": handled})
			})
		},
	})
	return cmd
}
