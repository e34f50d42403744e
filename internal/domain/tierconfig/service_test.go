package tierconfig

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
)

// -- Mocks --

type mockRepo struct {
	rows  map[string]json.RawMessage
	gets  int
	fail  error
	saved []*Entry
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[string]json.RawMessage)}
}

func (m *mockRepo) set(scope Scope, id *int64, key, value string) {
	m.rows[cacheKey(key, scope, id)] = json.RawMessage(value)
}

func (m *mockRepo) Get(_ context.Context, scope Scope, scopeID *int64, key string) (json.RawMessage, bool, error) {
	m.gets++
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.rows[cacheKey(key, scope, scopeID)]
	return v, ok, nil
}

func (m *mockRepo) Put(_ context.Context, e *Entry) error {
	m.rows[cacheKey(e.Key, e.Scope, e.ScopeID)] = e.Value
	e.ID = int64(len(m.saved) + 1)
	e.IsActive = true
	m.saved = append(m.saved, e)
	return nil
}

func (m *mockRepo) Deactivate(_ context.Context, scope Scope, scopeID *int64, key string) (bool, error) {
	k := cacheKey(key, scope, scopeID)
	if _, ok := m.rows[k]; !ok {
		return false, nil
	}
	delete(m.rows, k)
	return true, nil
}

func (m *mockRepo) List(_ context.Context, key string) ([]*Entry, error) {
	var out []*Entry
	for _, e := range m.saved {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

type mapCache struct {
	data    map[string][]byte
	failDel bool
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.data[key] = val
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	if c.failDel {
		return errors.New("redis: connection refused")
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

type staticDirectory map[int64]int64

func (d staticDirectory) MinorDeptOfClinic(_ context.Context, clinicID int64) (*int64, error) {
	m, ok := d[clinicID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func ptr(v int64) *int64 { return &v }

func newTestResolver() (*Resolver, *mockRepo, *mapCache) {
	repo := newMockRepo()
	c := newMapCache()
	r := NewResolver(repo, staticDirectory{3: 20}, c, time.Minute, zerolog.Nop())
	return r, repo, c
}

// -- Price --

func TestResolvePrice_ExplicitWins(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeDoctor, ptr(7), KeyPrice, `{"normal": 80}`)

	p, err := r.ResolvePrice(context.Background(), Target{DoctorID: 7, ClinicID: 3}, SlotNormal, decimal.NewFromInt(15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected 15, got %s", p)
	}
	if repo.gets != 0 {
		t.Errorf("expected no lookups for explicit price, got %d", repo.gets)
	}
}

func TestResolvePrice_TierOrder(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeDoctor, ptr(7), KeyPrice, `{"normal": null, "expert": 120}`)
	repo.set(ScopeClinic, ptr(3), KeyPrice, `{"normal": 30}`)
	repo.set(ScopeMinorDept, ptr(20), KeyPrice, `{"normal": 20}`)
	repo.set(ScopeGlobal, nil, KeyPrice, `{"normal": 10}`)
	target := Target{DoctorID: 7, ClinicID: 3}

	p, err := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected clinic price 30, got %s", p)
	}

	if err := r.Put(context.Background(), &Entry{Scope: ScopeClinic, ScopeID: ptr(3), Key: KeyPrice, Value: json.RawMessage(`{"normal": null}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err = r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected minor dept price 20 after clinic override cleared, got %s", p)
	}

	p, err = r.ResolvePrice(context.Background(), target, SlotExpert, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(120)) {
		t.Errorf("expected doctor expert price 120, got %s", p)
	}
}

func TestResolvePrice_Defaults(t *testing.T) {
	r, _, _ := newTestResolver()
	for st, want := range map[SlotType]int64{SlotNormal: 50, SlotExpert: 100, SlotSpecial: 500} {
		p, err := r.ResolvePrice(context.Background(), Target{DoctorID: 1, ClinicID: 99}, st, decimal.Zero)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", st, err)
		}
		if !p.Equal(decimal.NewFromInt(want)) {
			t.Errorf("%s: expected %d, got %s", st, want, p)
		}
	}
}

func TestResolvePrice_UnknownSlotType(t *testing.T) {
	r, _, _ := newTestResolver()
	_, err := r.ResolvePrice(context.Background(), Target{DoctorID: 1}, SlotType("vip"), decimal.Zero)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestResolvePrice_StorageFailure(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.fail = errors.New("connection reset")
	_, err := r.ResolvePrice(context.Background(), Target{DoctorID: 1}, SlotNormal, decimal.Zero)
	if !errors.Is(err, apperr.ConfigurationError) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestResolvePrice_CachesMisses(t *testing.T) {
	r, repo, _ := newTestResolver()
	target := Target{DoctorID: 7, ClinicID: 3}
	if _, err := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := repo.gets
	if _, err := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.gets != first {
		t.Errorf("expected cached lookups, repo hit %d more times", repo.gets-first)
	}
}

// -- Policies --

func TestRegistrationPolicy_PerFieldMerge(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeGlobal, nil, KeyRegistration, `{"cancelHoursBefore": 4, "maxAppointmentsPerPeriod": 6}`)
	repo.set(ScopeClinic, ptr(3), KeyRegistration, `{"cancelHoursBefore": null, "paymentRequired": false}`)
	repo.set(ScopeDoctor, ptr(7), KeyRegistration, `{"maxAppointmentsPerPeriod": 3}`)

	p, err := r.RegistrationPolicy(context.Background(), Target{DoctorID: 7, ClinicID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CancelHoursBefore != 4 {
		t.Errorf("expected cancelHoursBefore 4 from GLOBAL, got %d", p.CancelHoursBefore)
	}
	if p.MaxAppointmentsPerPeriod != 3 {
		t.Errorf("expected maxAppointmentsPerPeriod 3 from DOCTOR, got %d", p.MaxAppointmentsPerPeriod)
	}
	if p.PaymentRequired {
		t.Error("expected paymentRequired false from CLINIC")
	}
	if p.AppointmentPeriodDays != 8 {
		t.Errorf("expected default appointmentPeriodDays 8, got %d", p.AppointmentPeriodDays)
	}
}

func TestSchedulePolicy_SectionStart(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeClinic, ptr(3), KeySchedule, `{"morningStart": "07:30"}`)
	p, err := r.SchedulePolicy(context.Background(), Target{ClinicID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc := time.FixedZone("CST", 8*3600)
	start, err := p.SectionStart(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), SectionMorning, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 12, 1, 7, 30, 0, 0, loc)
	if !start.Equal(want) {
		t.Errorf("expected %v, got %v", want, start)
	}
	if p.AfternoonStart != "13:30" {
		t.Errorf("expected default afternoon start, got %s", p.AfternoonStart)
	}
}

func TestSchedulePolicy_InvalidStoredValue(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeGlobal, nil, KeySchedule, `{"morningStart": "13:00"}`)
	_, err := r.SchedulePolicy(context.Background(), Target{})
	if !errors.Is(err, apperr.ConfigurationError) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

// -- Writes --

func TestPut_Validation(t *testing.T) {
	r, _, _ := newTestResolver()
	cases := []*Entry{
		{Scope: "WARD", Key: KeyPrice, Value: json.RawMessage(`{}`)},
		{Scope: ScopeGlobal, ScopeID: ptr(1), Key: KeyPrice, Value: json.RawMessage(`{}`)},
		{Scope: ScopeDoctor, Key: KeyPrice, Value: json.RawMessage(`{}`)},
		{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`[1,2]`)},
		{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"vip": 1}`)},
		{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"normal": -1}`)},
		{Scope: ScopeGlobal, Key: KeyRegistration, Value: json.RawMessage(`{"appointmentPeriodDays": 0}`)},
		{Scope: ScopeGlobal, Key: "unknown", Value: json.RawMessage(`{}`)},
	}
	for i, e := range cases {
		if err := r.Put(context.Background(), e); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestPut_InvalidatesCache(t *testing.T) {
	r, repo, c := newTestResolver()
	repo.set(ScopeGlobal, nil, KeyPrice, `{"normal": 10}`)
	target := Target{}
	if _, err := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.data[cacheKey(KeyPrice, ScopeGlobal, nil)]; !ok {
		t.Fatal("expected GLOBAL layer to be cached")
	}

	if err := r.Put(context.Background(), &Entry{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"normal": 12}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected updated price 12, got %s", p)
	}
}

func TestPut_InvalidationFailure(t *testing.T) {
	r, _, c := newTestResolver()
	c.failDel = true
	err := r.Put(context.Background(), &Entry{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"normal": 12}`)})
	if !errors.Is(err, apperr.ConfigurationError) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestPut_InvalidatesAfterCommit(t *testing.T) {
	r, repo, c := newTestResolver()
	repo.set(ScopeGlobal, nil, KeyPrice, `{"normal": 10}`)
	if _, err := r.ResolvePrice(context.Background(), Target{}, SlotNormal, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ck := cacheKey(KeyPrice, ScopeGlobal, nil)

	ctx, hooks := db.WithCommitHooks(context.Background())
	if err := r.Put(ctx, &Entry{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"normal": 12}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := c.data[ck]; !ok {
		t.Fatal("expected cached layer to survive until commit")
	}
	if err := hooks.Run(ctx); err != nil {
		t.Fatalf("run hooks: %v", err)
	}
	if _, ok := c.data[ck]; ok {
		t.Error("expected cached layer dropped after commit")
	}
}

func TestPut_InvalidationFailureAfterCommit(t *testing.T) {
	r, _, c := newTestResolver()
	c.failDel = true
	ctx, hooks := db.WithCommitHooks(context.Background())
	if err := r.Put(ctx, &Entry{Scope: ScopeGlobal, Key: KeyPrice, Value: json.RawMessage(`{"normal": 12}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := hooks.Run(ctx); !errors.Is(err, apperr.ConfigurationError) {
		t.Errorf("expected ConfigurationError from the commit hook, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	r, repo, _ := newTestResolver()
	repo.set(ScopeDoctor, ptr(7), KeyPrice, `{"normal": 80}`)
	target := Target{DoctorID: 7}

	p, _ := r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero)
	if !p.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected 80, got %s", p)
	}
	if err := r.Deactivate(context.Background(), ScopeDoctor, ptr(7), KeyPrice); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	p, _ = r.ResolvePrice(context.Background(), target, SlotNormal, decimal.Zero)
	if !p.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected default 50 after deactivation, got %s", p)
	}

	err := r.Deactivate(context.Background(), ScopeDoctor, ptr(7), KeyPrice)
	if !errors.Is(err, apperr.NotFound) {
		t.Errorf("expected NotFound on second deactivation, got %v", err)
	}
}

func TestCache_KeyedByTenant(t *testing.T) {
	r, repo, c := newTestResolver()
	repo.set(ScopeGlobal, nil, KeyPrice, `{"normal": 10}`)
	ctx := context.WithValue(context.Background(), db.TenantIDKey, "north")
	if _, err := r.ResolvePrice(ctx, Target{}, SlotNormal, decimal.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.data["north:"+cacheKey(KeyPrice, ScopeGlobal, nil)]; !ok {
		t.Errorf("expected the layer cached under the tenant, got keys %v", c.data)
	}
	if _, ok := c.data[cacheKey(KeyPrice, ScopeGlobal, nil)]; ok {
		t.Error("expected no unscoped cache entry")
	}
}
