package queue

import (
	"sort"

	"github.com/hospital/outpatient/internal/domain/booking"
)

// Stats are the per-schedule counters shown on the doctor's workbench.
type Stats struct {
	Total     int `json:"total"`
	Waiting   int `json:"waiting"`
	Waitlist  int `json:"waitlist"`
	Completed int `json:"completed"`
	Passed    int `json:"passed"`
}

type Snapshot struct {
	ScheduleID int64            `json:"schedule_id"`
	Current    *booking.Order   `json:"current"`
	Next       *booking.Order   `json:"next"`
	Queue      []*booking.Order `json:"queue"`
	Waitlist   []*booking.Order `json:"waitlist"`
	Stats      Stats            `json:"stats"`
}

// PassResult reports a passed order. NoShow is set when the pass limit
// turned it into a no-show.
type PassResult struct {
	Order  *booking.Order `json:"order"`
	NoShow bool           `json:"no_show"`
}

// callOrder sorts candidates by priority, then queue number, then enqueue
// order.
func callOrder(orders []*booking.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if qa, qb := queueNumber(a), queueNumber(b); qa != qb {
			return qa < qb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func queueNumber(o *booking.Order) int {
	if o.QueueNumber == nil {
		return int(^uint(0) >> 1)
	}
	return *o.QueueNumber
}

func waitlistOrder(orders []*booking.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		pa, pb := 0, 0
		if a.WaitlistPosition != nil {
			pa = *a.WaitlistPosition
		}
		if b.WaitlistPosition != nil {
			pb = *b.WaitlistPosition
		}
		if pa != pb {
			return pa < pb
		}
		return a.ID < b.ID
	})
}

// buildSnapshot partitions a schedule's orders into the queue views.
func buildSnapshot(scheduleID int64, orders []*booking.Order) *Snapshot {
	snap := &Snapshot{ScheduleID: scheduleID, Queue: []*booking.Order{}, Waitlist: []*booking.Order{}}
	for _, o := range orders {
		switch {
		case o.Status == booking.StatusCancelled:
			continue
		case o.Status == booking.StatusWaitlist:
			snap.Waitlist = append(snap.Waitlist, o)
		case o.Status == booking.StatusCompleted:
			snap.Stats.Completed++
		case o.Status.Queued() && o.IsCall:
			snap.Current = o
		case o.Status.Queued():
			snap.Queue = append(snap.Queue, o)
			if o.PassCount > 0 {
				snap.Stats.Passed++
			}
		}
		snap.Stats.Total++
	}
	callOrder(snap.Queue)
	waitlistOrder(snap.Waitlist)
	if len(snap.Queue) > 0 {
		snap.Next = snap.Queue[0]
	}
	snap.Stats.Waiting = len(snap.Queue)
	snap.Stats.Waitlist = len(snap.Waitlist)
	return snap
}
