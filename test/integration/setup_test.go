package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/domain/attendance"
	"github.com/hospital/outpatient/internal/domain/audit"
	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/queue"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/cache"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/migrations"
)

// globalPool is shared by every test; each test works in its own hospital
// schema.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if errors.Is(err, errNoDocker) {
		fmt.Fprintln(os.Stderr, "skipping integration tests: docker is not available")
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "parse connection string: %v\n", err)
		os.Exit(1)
	}
	cfg.MaxConns = 32
	globalPool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "create pool: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	globalPool.Close()
	cleanup()
	os.Exit(code)
}

// clock is a settable time source shared by the services of one stack.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// stack wires every service against one fresh hospital schema, the way the
// server does for a request.
type stack struct {
	t        *testing.T
	tenant   string
	clock    *clock
	resolver *tierconfig.Resolver
	catalog  *scheduling.Catalog
	ledger   *booking.Ledger
	queue    *queue.Service
	marker   *attendance.Marker
	pipeline *audit.Pipeline
}

func newStack(t *testing.T, loc *time.Location) *stack {
	t.Helper()
	ctx := context.Background()
	tenant := uniqueTenantID(strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_")))
	if err := db.CreateTenantSchema(ctx, globalPool, tenant, migrations.FS); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := globalPool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+db.SchemaFor(tenant)+" CASCADE"); err != nil {
			t.Logf("drop schema: %v", err)
		}
	})

	logger := zerolog.Nop()
	tx := db.NewTxManager(globalPool, db.TxOptions{LockTimeout: 5 * time.Second, StatementTimeout: 10 * time.Second, MaxRetries: 3}, logger)
	clk := &clock{t: time.Date(2025, 11, 28, 10, 0, 0, 0, loc)}

	resolver := tierconfig.NewResolver(tierconfig.NewRepoPG(globalPool), tierconfig.NewDirectoryPG(globalPool),
		cache.Nop{}, time.Minute, logger)
	catalog := scheduling.NewCatalog(scheduling.NewRepoPG(globalPool), resolver, tx, logger)
	orders := booking.NewRepoPG(globalPool)
	ledger := booking.NewLedger(orders, catalog, resolver, tx, loc, logger, booking.WithClock(clk.now))
	q := queue.NewService(orders, catalog, resolver, tx, logger)
	q.SetClock(clk.now)
	marker := attendance.NewMarker(attendance.NewRepoPG(globalPool), catalog, tx, loc, logger)
	marker.SetClock(clk.now)
	pipeline := audit.NewPipeline(audit.NewRepoPG(globalPool), catalog, ledger, resolver, tx, logger)
	pipeline.SetClock(clk.now)

	return &stack{
		t: t, tenant: tenant, clock: clk, resolver: resolver, catalog: catalog,
		ledger: ledger, queue: q, marker: marker, pipeline: pipeline,
	}
}

// do runs fn on a connection pinned to the stack's schema, as the tenant
// middleware does for a request.
func (s *stack) do(fn func(ctx context.Context) error) error {
	ctx, release, err := db.WithTenant(context.Background(), globalPool, s.tenant)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// must is do for setup steps that may not fail.
func (s *stack) must(fn func(ctx context.Context) error) {
	s.t.Helper()
	if err := s.do(fn); err != nil {
		s.t.Fatalf("setup: %v", err)
	}
}

func (s *stack) exec(sql string, args ...interface{}) {
	s.t.Helper()
	s.must(func(ctx context.Context) error {
		_, err := db.ConnFromContext(ctx).Exec(ctx, sql, args...)
		return err
	})
}

func (s *stack) putConfig(scope tierconfig.Scope, scopeID *int64, key, value string) {
	s.t.Helper()
	s.must(func(ctx context.Context) error {
		return s.resolver.Put(ctx, &tierconfig.Entry{Scope: scope, ScopeID: scopeID, Key: key, Value: []byte(value)})
	})
}

func (s *stack) createSchedule(doctorID int64, date time.Time, section tierconfig.Section, total int) *scheduling.Schedule {
	s.t.Helper()
	var out *scheduling.Schedule
	s.must(func(ctx context.Context) error {
		var err error
		out, err = s.catalog.Create(ctx, scheduling.CreateRequest{
			DoctorID: doctorID, ClinicID: 3, Date: date, Section: section,
			SlotType: tierconfig.SlotNormal, TotalSlots: total, Price: decimal.Zero,
		})
		return err
	})
	return out
}

func (s *stack) schedule(id int64) *scheduling.Schedule {
	s.t.Helper()
	var out *scheduling.Schedule
	s.must(func(ctx context.Context) error {
		var err error
		out, err = s.catalog.Get(ctx, id)
		return err
	})
	return out
}

// assertCapacity checks remaining + slot-holding orders == total.
func (s *stack) assertCapacity(scheduleID int64) {
	s.t.Helper()
	var total, remaining, holding int
	s.must(func(ctx context.Context) error {
		conn := db.ConnFromContext(ctx)
		if err := conn.QueryRow(ctx, `SELECT total_slots, remaining_slots FROM schedule WHERE schedule_id = $1`,
			scheduleID).Scan(&total, &remaining); err != nil {
			return err
		}
		return conn.QueryRow(ctx, `
			SELECT COUNT(*) FROM registration_order
			WHERE schedule_id = $1 AND status NOT IN ('cancelled', 'waitlist')`,
			scheduleID).Scan(&holding)
	})
	if remaining+holding != total {
		s.t.Errorf("capacity invariant broken on schedule %d: remaining %d + holding %d != total %d",
			scheduleID, remaining, holding, total)
	}
}

func uniqueTenantID(prefix string) string {
	if len(prefix) > 24 {
		prefix = prefix[:24]
	}
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.New().String()[:8], "-", ""))
}

func ptr[T any](v T) *T { return &v }

func decimalOf(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
