package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/outpatient/internal/config"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "registration-server",
		Short: "Outpatient registration and scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(attendanceCmd())
	rootCmd.AddCommand(ordersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// connect loads configuration and opens the pool shared by every command.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registration API server",
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
		Short: "Apply pending migrations to a hospital schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Hospital identifier")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(tenant)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Hospital identifier")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital schema and apply every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating hospital schema: %s\n", db.SchemaFor(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Hospital created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Hospital identifier (alphanumeric and underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

func attendanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Doctor attendance maintenance",
	}

	markCmd := &cobra.Command{
		Use:   "mark",
		Short: "Mark schedules without attendance as absent over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")

			return withServices(tenant, func(ctx context.Context, svc *services) error {
				from, to, err := dateRange(fromRaw, toRaw, time.Now().In(svc.loc))
				if err != nil {
					return err
				}
				days, err := svc.marker.MarkAbsentRange(ctx, from, to)
				for _, d := range days {
					fmt.Printf("%s  total=%d  absent_marked=%d  already_marked=%d\n",
						d.Date, d.TotalSchedules, d.AbsentMarked, d.AlreadyMarked)
				}
				return err
			})
		},
	}
	markCmd.Flags().String("tenant", "default", "Hospital identifier")
	markCmd.Flags().String("from", "", "First date (YYYY-MM-DD), defaults to yesterday")
	markCmd.Flags().String("to", "", "Last date (YYYY-MM-DD), defaults to --from")

	cmd.AddCommand(markCmd)
	return cmd
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Registration order maintenance",
	}

	expireCmd := &cobra.Command{
		Use:   "expire-unpaid",
		Short: "Cancel pending orders whose payment window has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withServices(tenant, func(ctx context.Context, svc *services) error {
				res, err := svc.ledger.ExpireUnpaid(ctx)
				fmt.Printf("scanned=%d expired=%d promoted=%d failed=%d\n",
					res.Scanned, res.Expired, res.Promoted, res.Failed)
				return err
			})
		},
	}
	expireCmd.Flags().String("tenant", "default", "Hospital identifier")

	cmd.AddCommand(expireCmd)
	return cmd
}

// withServices runs fn against one hospital's schema with the full service
// graph wired, the way a request would see it.
func withServices(tenant string, fn func(ctx context.Context, svc *services) error) error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg.Env, os.Stderr)
	svc, closeFn, err := buildServices(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, release, err := db.WithTenant(ctx, pool, tenant)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, svc)
}

// dateRange parses the --from/--to pair. An empty from means yesterday in
// the hospital's zone; an empty to means the same day as from.
func dateRange(fromRaw, toRaw string, now time.Time) (time.Time, time.Time, error) {
	from := scheduling.DateOnly(now).AddDate(0, 0, -1)
	if fromRaw = strings.TrimSpace(fromRaw); fromRaw != "" {
		d, err := time.Parse("2006-01-02", fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: want YYYY-MM-DD", fromRaw)
		}
		from = d
	}
	to := from
	if toRaw = strings.TrimSpace(toRaw); toRaw != "" {
		d, err := time.Parse("2006-01-02", toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: want YYYY-MM-DD", toRaw)
		}
		to = d
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s precedes --from %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	return from, to, nil
}
