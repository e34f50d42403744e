package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
)

var (
	dec1      = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	frontDesk = auth.NewCaller(6, []string{auth.RoleFrontDesk}, nil)
)

func TestScenario_BookCancelAndServe(t *testing.T) {
	st := newStack(t, time.UTC)
	st.putConfig(tierconfig.ScopeClinic, ptr(int64(3)), tierconfig.KeyPrice, `{"normal": 60}`)

	s := st.createSchedule(7, dec1, tierconfig.SectionMorning, 2)
	if !s.Price.Equal(decimalOf(60)) {
		t.Fatalf("expected clinic price 60, got %s", s.Price)
	}
	if s.RemainingSlots != 2 {
		t.Fatalf("expected 2 remaining, got %d", s.RemainingSlots)
	}

	book := func(patient int64) (*booking.Order, error) {
		var o *booking.Order
		err := st.do(func(ctx context.Context) error {
			var err error
			o, err = st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: patient})
			return err
		})
		return o, err
	}

	a, err := book(101)
	if err != nil {
		t.Fatalf("book A: %v", err)
	}
	if a.Status != booking.StatusPending {
		t.Errorf("expected A pending, got %s", a.Status)
	}
	if got := st.schedule(s.ID).RemainingSlots; got != 1 {
		t.Errorf("expected 1 remaining after A, got %d", got)
	}
	b, err := book(102)
	if err != nil {
		t.Fatalf("book B: %v", err)
	}
	if got := st.schedule(s.ID).RemainingSlots; got != 0 {
		t.Errorf("expected 0 remaining after B, got %d", got)
	}
	if _, err := book(103); !errors.Is(err, apperr.SlotExhausted) {
		t.Fatalf("expected SlotExhausted for C, got %v", err)
	}

	var cancelled *booking.CancelResult
	st.must(func(ctx context.Context) error {
		var err error
		cancelled, err = st.ledger.Cancel(ctx, frontDesk, a.ID, "changed plans")
		return err
	})
	if cancelled.Refund != nil {
		t.Errorf("expected no refund on an unpaid order, got %s", cancelled.Refund)
	}
	if got := st.schedule(s.ID).RemainingSlots; got != 1 {
		t.Errorf("expected 1 remaining after cancel, got %d", got)
	}
	st.assertCapacity(s.ID)

	var next *booking.Order
	st.must(func(ctx context.Context) error {
		var err error
		next, err = st.queue.CallNext(ctx, s.ID)
		return err
	})
	if next == nil || next.ID != b.ID {
		t.Fatalf("expected B to be called, got %+v", next)
	}

	st.must(func(ctx context.Context) error {
		res, err := st.queue.Pass(ctx, b.ID)
		if err != nil {
			return err
		}
		if res.Order.PassCount != 1 || res.NoShow {
			t.Errorf("expected pass_count 1 without no-show, got %d/%v", res.Order.PassCount, res.NoShow)
		}
		return nil
	})
	st.must(func(ctx context.Context) error {
		snap, err := st.queue.Snapshot(ctx, s.ID)
		if err != nil {
			return err
		}
		if snap.Current != nil {
			t.Errorf("expected no current patient after pass, got order %d", snap.Current.ID)
		}
		return nil
	})

	st.must(func(ctx context.Context) error {
		var err error
		next, err = st.queue.CallNext(ctx, s.ID)
		return err
	})
	if next == nil || next.ID != b.ID {
		t.Fatalf("expected B to be called again, got %+v", next)
	}

	st.must(func(ctx context.Context) error {
		done, err := st.queue.Complete(ctx, b.ID)
		if err != nil {
			return err
		}
		if done.Status != booking.StatusCompleted {
			t.Errorf("expected completed, got %s", done.Status)
		}
		snap, err := st.queue.Snapshot(ctx, s.ID)
		if err != nil {
			return err
		}
		if len(snap.Queue) != 0 || snap.Current != nil {
			t.Errorf("expected empty queue, got %d waiting, current %v", len(snap.Queue), snap.Current)
		}
		return nil
	})
	st.assertCapacity(s.ID)
}

func TestScenario_PriceTierOrder(t *testing.T) {
	st := newStack(t, time.UTC)
	st.exec(`INSERT INTO clinic (clinic_id, minor_dept_id, name) VALUES (3, 11, 'Cardiology 1')`)
	st.putConfig(tierconfig.ScopeGlobal, nil, tierconfig.KeyPrice, `{"normal": 10}`)
	st.putConfig(tierconfig.ScopeMinorDept, ptr(int64(11)), tierconfig.KeyPrice, `{"normal": 20}`)
	st.putConfig(tierconfig.ScopeClinic, ptr(int64(3)), tierconfig.KeyPrice, `{"normal": 30}`)

	target := tierconfig.Target{DoctorID: 7, ClinicID: 3}
	resolve := func() string {
		var out string
		st.must(func(ctx context.Context) error {
			p, err := st.resolver.ResolvePrice(ctx, target, tierconfig.SlotNormal, decimalOf(0))
			out = p.String()
			return err
		})
		return out
	}

	if got := resolve(); got != "30" {
		t.Errorf("expected clinic price 30, got %s", got)
	}
	st.must(func(ctx context.Context) error {
		return st.resolver.Deactivate(ctx, tierconfig.ScopeClinic, ptr(int64(3)), tierconfig.KeyPrice)
	})
	if got := resolve(); got != "20" {
		t.Errorf("expected minor department price 20, got %s", got)
	}
	st.putConfig(tierconfig.ScopeDoctor, ptr(int64(7)), tierconfig.KeyPrice, `{"normal": 45}`)
	if got := resolve(); got != "45" {
		t.Errorf("expected doctor price 45, got %s", got)
	}

	st.must(func(ctx context.Context) error {
		p, err := st.resolver.ResolvePrice(ctx, target, tierconfig.SlotNormal, decimalOf(88))
		if err == nil && p.String() != "88" {
			t.Errorf("expected explicit price 88, got %s", p)
		}
		return err
	})
}

func TestScenario_CancelWindowInHospitalZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	st := newStack(t, loc)
	st.putConfig(tierconfig.ScopeGlobal, nil, tierconfig.KeyRegistration, `{"paymentRequired": false}`)
	s := st.createSchedule(7, dec1, tierconfig.SectionMorning, 5)

	var early, late *booking.Order
	st.must(func(ctx context.Context) error {
		var err error
		if early, err = st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: 201}); err != nil {
			return err
		}
		late, err = st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: 202})
		return err
	})
	if early.Status != booking.StatusConfirmed {
		t.Errorf("expected confirmed without payment, got %s", early.Status)
	}

	// Morning starts 08:00 Shanghai time; the default window closes two hours earlier.
	st.clock.t = time.Date(2025, 12, 1, 5, 30, 0, 0, loc)
	st.must(func(ctx context.Context) error {
		_, err := st.ledger.Cancel(ctx, frontDesk, early.ID, "")
		return err
	})

	st.clock.t = time.Date(2025, 12, 1, 6, 30, 0, 0, loc)
	err = st.do(func(ctx context.Context) error {
		_, err := st.ledger.Cancel(ctx, frontDesk, late.ID, "")
		return err
	})
	if !errors.Is(err, apperr.CancellationWindowExpired) {
		t.Fatalf("expected CancellationWindowExpired, got %v", err)
	}
	st.assertCapacity(s.ID)
}

func TestScenario_ScheduleConflict(t *testing.T) {
	st := newStack(t, time.UTC)
	first := st.createSchedule(7, dec1, tierconfig.SectionMorning, 5)

	create := func() error {
		return st.do(func(ctx context.Context) error {
			_, err := st.catalog.Create(ctx, scheduling.CreateRequest{
				DoctorID: 7, ClinicID: 4, Date: dec1, Section: tierconfig.SectionMorning,
				SlotType: tierconfig.SlotExpert, TotalSlots: 3,
			})
			return err
		})
	}
	if err := create(); !errors.Is(err, apperr.ScheduleConflict) {
		t.Fatalf("expected ScheduleConflict, got %v", err)
	}

	st.must(func(ctx context.Context) error {
		_, err := st.catalog.Suspend(ctx, first.ID)
		return err
	})
	if err := create(); err != nil {
		t.Fatalf("expected a suspended schedule to free the slot, got %v", err)
	}
	st.must(func(ctx context.Context) error {
		_, err := st.catalog.Reactivate(ctx, first.ID)
		if !errors.Is(err, apperr.ScheduleConflict) {
			t.Errorf("expected reactivation to conflict, got %v", err)
		}
		return nil
	})
}

func TestScenario_WaitlistPromotion(t *testing.T) {
	st := newStack(t, time.UTC)
	s := st.createSchedule(7, dec1, tierconfig.SectionAfternoon, 1)

	var held, waiting *booking.Order
	st.must(func(ctx context.Context) error {
		var err error
		if held, err = st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: 301}); err != nil {
			return err
		}
		waiting, err = st.ledger.JoinWaitlist(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: 302})
		return err
	})

	st.must(func(ctx context.Context) error {
		res, err := st.ledger.Cancel(ctx, frontDesk, held.ID, "")
		if err != nil {
			return err
		}
		if res.PromotedOrderID == nil || *res.PromotedOrderID != waiting.ID {
			t.Errorf("expected order %d promoted, got %v", waiting.ID, res.PromotedOrderID)
		}
		promoted, err := st.ledger.Get(ctx, waiting.ID)
		if err != nil {
			return err
		}
		if promoted.Status != booking.StatusPending || promoted.QueueNumber == nil {
			t.Errorf("expected promoted order pending with a queue number, got %s/%v", promoted.Status, promoted.QueueNumber)
		}
		return nil
	})
	if got := st.schedule(s.ID).RemainingSlots; got != 0 {
		t.Errorf("expected the promoted order to hold the slot, got %d remaining", got)
	}
	st.assertCapacity(s.ID)
}
