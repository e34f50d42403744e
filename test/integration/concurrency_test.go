package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
)

func TestConcurrentBooking_NeverOversells(t *testing.T) {
	st := newStack(t, time.UTC)
	s := st.createSchedule(7, dec1, tierconfig.SectionMorning, 3)

	const attempts = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
		errs   []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(patient int64) {
			defer wg.Done()
			err := st.do(func(ctx context.Context) error {
				_, err := st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: patient})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			booked++
		}(int64(500 + i))
	}
	wg.Wait()

	if booked != 3 {
		t.Errorf("expected exactly 3 bookings, got %d", booked)
	}
	for _, err := range errs {
		if !errors.Is(err, apperr.SlotExhausted) {
			t.Errorf("expected SlotExhausted for the losers, got %v", err)
		}
	}
	if got := st.schedule(s.ID).RemainingSlots; got != 0 {
		t.Errorf("expected 0 remaining, got %d", got)
	}
	st.assertCapacity(s.ID)
}

func TestConcurrentBooking_SamePatientOnce(t *testing.T) {
	st := newStack(t, time.UTC)
	s := st.createSchedule(7, dec1, tierconfig.SectionEvening, 5)

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- st.do(func(ctx context.Context) error {
				_, err := st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: 600})
				return err
			})
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperr.DuplicateBooking):
			t.Errorf("expected DuplicateBooking, got %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected one successful booking, got %d", ok)
	}
	st.assertCapacity(s.ID)
}

func TestConcurrentCallNext_SingleCurrent(t *testing.T) {
	st := newStack(t, time.UTC)
	s := st.createSchedule(7, dec1, tierconfig.SectionMorning, 6)
	st.must(func(ctx context.Context) error {
		for p := int64(700); p < 706; p++ {
			if _, err := st.ledger.Book(ctx, frontDesk, booking.BookRequest{ScheduleID: s.ID, PatientID: p}); err != nil {
				return err
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.do(func(ctx context.Context) error {
				_, err := st.queue.CallNext(ctx, s.ID)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("call next: %v", err)
		}
	}

	var current int
	st.must(func(ctx context.Context) error {
		return db.ConnFromContext(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM registration_order WHERE schedule_id = $1 AND is_call`, s.ID).Scan(&current)
	})
	if current != 1 {
		t.Errorf("expected exactly one current patient, got %d", current)
	}
}
