package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/outpatient/internal/platform/db"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the nightly absence marking and the unpaid order sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenants, _ := cmd.Flags().GetStringSlice("tenants")
			return runWorker(tenants)
		},
	}
	cmd.Flags().StringSlice("tenants", nil, "Hospitals to serve, defaults to DEFAULT_TENANT")
	return cmd
}

// job is one maintenance task run against a single hospital's schema.
type job struct {
	name string
	expr string
	run  func(ctx context.Context, svc *services) error
}

func maintenanceJobs(attendanceExpr, sweepExpr string) []job {
	return []job{
		{
			name: "mark-absent",
			expr: attendanceExpr,
			run: func(ctx context.Context, svc *services) error {
				_, err := svc.marker.MarkYesterday(ctx)
				return err
			},
		},
		{
			name: "expire-unpaid",
			expr: sweepExpr,
			run: func(ctx context.Context, svc *services) error {
				_, err := svc.ledger.ExpireUnpaid(ctx)
				return err
			},
		},
	}
}

// schedule registers every job for every hospital on c. Jobs for different
// hospitals are independent entries so one slow schema does not hold up the
// others.
func schedule(c *cron.Cron, pool *pgxpool.Pool, svc *services, tenants []string, jobs []job, logger zerolog.Logger) error {
	for _, tenant := range tenants {
		tenant := tenant
		for _, j := range jobs {
			j := j
			jl := logger.With().Str("job", j.name).Str("tenant", tenant).Logger()
			_, err := c.AddFunc(j.expr, func() {
				ctx, release, err := db.WithTenant(context.Background(), pool, tenant)
				if err != nil {
					jl.Error().Err(err).Msg("acquire hospital connection failed")
					return
				}
				defer release()
				if err := j.run(ctx, svc); err != nil {
					jl.Error().Err(err).Msg("job failed")
					return
				}
				jl.Debug().Msg("job finished")
			})
			if err != nil {
				return fmt.Errorf("schedule %s %q: %w", j.name, j.expr, err)
			}
		}
	}
	return nil
}

func runWorker(tenants []string) error {
	ctx := context.Background()
	cfg, pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg.Env, os.Stdout).With().Str("service", cfg.ServiceName+"-worker").Logger()
	if len(tenants) == 0 {
		tenants = []string{cfg.DefaultTenant}
	}

	svc, closeCache, err := buildServices(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	cronLogger := cron.PrintfLogger(&logger)
	c := cron.New(
		cron.WithLocation(svc.loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if err := schedule(c, pool, svc, tenants, maintenanceJobs(cfg.AttendanceCron, cfg.PaymentSweepCron), logger); err != nil {
		return err
	}

	c.Start()
	logger.Info().Strs("tenants", tenants).Str("attendance", cfg.AttendanceCron).
		Str("payment_sweep", cfg.PaymentSweepCron).Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("stopping worker")
	<-c.Stop().Done()
	logger.Info().Msg("worker stopped")
	return nil
}
