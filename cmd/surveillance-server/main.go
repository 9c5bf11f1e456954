package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/surveillance/internal/config"
	"github.com/ehr/surveillance/internal/domain/casecount"
	"github.com/ehr/surveillance/internal/domain/epiweek"
	"github.com/ehr/surveillance/internal/domain/notification"
	"github.com/ehr/surveillance/internal/platform/db"
	"github.com/ehr/surveillance/internal/platform/reporting"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "surveillance-server",
		Short: "Disease surveillance case-management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the surveillance API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			migrator.SetLogger(newLogger(cfg.Env, cfg.LogLevel))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.Modified {
				status = "modified"
			}
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate reports from the command line",
	}

	caseCount := &cobra.Command{
		Use:   "case-count",
		Short: "Write the case count by epi-week as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := caseCountQuery(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			policy, err := cfg.EpiWeekPolicy()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := casecount.NewService(notification.NewCaseSource(pool), epiweek.New(policy), notification.LookupStatus)
			table, err := svc.CaseCount(ctx, q)
			if err != nil {
				return err
			}
			data, err := reporting.RenderCaseCount(table)
			if err != nil {
				return err
			}
			if out == "" {
				out = reporting.FileName(table, reporting.FormatXLSX)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d case(s) over %d week(s) to %s\n", table.Total, len(table.Weeks), out)
			return nil
		},
	}
	caseCount.Flags().String("start", "", "First day to count, YYYY-MM-DD (required)")
	caseCount.Flags().String("end", "", "Last day to count, YYYY-MM-DD (default --start)")
	caseCount.Flags().String("status", "", "Only count cases in this status")
	caseCount.Flags().String("out", "", "Output file (default case-count_<start>_<end>.xlsx)")
	caseCount.MarkFlagRequired("start")
	cmd.AddCommand(caseCount)

	return cmd
}

func caseCountQuery(cmd *cobra.Command) (casecount.Query, error) {
	var q casecount.Query
	start, _ := cmd.Flags().GetString("start")
	d, err := time.Parse("2006-01-02", start)
	if err != nil {
		return q, fmt.Errorf("--start: %w", err)
	}
	q.Start = d
	if end, _ := cmd.Flags().GetString("end"); end != "" {
		d, err := time.Parse("2006-01-02", end)
		if err != nil {
			return q, fmt.Errorf("--end: %w", err)
		}
		q.End = &d
	}
	q.Status, _ = cmd.Flags().GetString("status")
	return q, nil
}
