package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicore/practice/internal/config"
	"github.com/clinicore/practice/internal/domain/appointment"
	"github.com/clinicore/practice/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "practice-server",
		Short: "Multi-tenant medical practice API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, env *cliEnv) error {
				count, err := db.NewMigrator(env.pool, migrationsDir(dir, cfg), env.logger).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, env *cliEnv) error {
				statuses, err := db.NewMigrator(env.pool, migrationsDir(dir, cfg), env.logger).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			typ, _ := cmd.Flags().GetString("type")
			if id == "" || name == "" {
				return fmt.Errorf("--id and --name are required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, env *cliEnv) error {
				registry, closeCache, err := env.registry(ctx, cfg)
				if err != nil {
					return err
				}
				defer closeCache()

				t, err := registry.Create(ctx, db.NewTenant{ID: id, Name: name, Type: typ})
				if err != nil {
					return err
				}
				fmt.Printf("Tenant %s (%s) created.\n", t.ID, t.Name)
				return nil
			})
		},
	}
	createCmd.Flags().String("id", "", "Tenant identifier (letters, digits, _ and -)")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("type", "", "Tenant type (default clinic)")
	cmd.AddCommand(createCmd)

	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Appointment reconciliation",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Mark past pending appointments as missed, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			now, err := parseInstant(at)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, cfg *config.Config, env *cliEnv) error {
				rec := env.reconciler()
				if !now.IsZero() {
					rec.SetClock(func() time.Time { return now })
				}
				result := rec.Run(ctx)
				if err := printJSON(result); err != nil {
					return err
				}
				if result.Error != "" {
					return fmt.Errorf("reconciliation failed: %s", result.Error)
				}
				return nil
			})
		},
	}
	runCmd.Flags().String("at", "", "Treat this RFC3339 instant as now")
	cmd.AddCommand(runCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count appointments per status, for one tenant or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")

			filter, err := statsFilter(tenant, fromFlag, toFlag)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, cfg *config.Config, env *cliEnv) error {
				stats, err := env.reconciler().Stats(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
	statsCmd.Flags().String("tenant", "", "Tenant id (default all tenants)")
	statsCmd.Flags().String("from", "", "Only appointments starting at or after this date (YYYY-MM-DD or RFC3339)")
	statsCmd.Flags().String("to", "", "Only appointments starting on or before this date (YYYY-MM-DD, whole day) or before this RFC3339 instant")
	cmd.AddCommand(statsCmd)

	return cmd
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

// parseInstant accepts a date or an RFC3339 timestamp. Empty input yields the zero time.
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

func statsFilter(tenant, from, to string) (appointment.StatsFilter, error) {
	f := appointment.StatsFilter{TenantID: tenant}
	var err error
	if f.From, err = parseInstant(from); err != nil {
		return f, err
	}
	if f.To, err = parseInstant(to); err != nil {
		return f, err
	}
	// A bare date closes the range at the end of that day.
	if _, dateErr := time.Parse(time.DateOnly, to); dateErr == nil {
		f.To = f.To.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("--to must not be before --from")
	}
	if tenant != "" && !db.ValidTenantID(tenant) {
		return f, fmt.Errorf("invalid tenant id %q", tenant)
	}
	return f, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
