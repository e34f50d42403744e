package db

import (
	"context"
	"errors"
	"testing"
)

func TestAfterCommit_RunsNowWithoutTransaction(t *testing.T) {
	ran := false
	err := AfterCommit(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("expected hook to run immediately, ran=%v err=%v", ran, err)
	}
}

func TestAfterCommit_QueuedUntilRun(t *testing.T) {
	ctx, hooks := WithCommitHooks(context.Background())
	var order []int
	for i := 1; i <= 2; i++ {
		i := i
		if err := AfterCommit(ctx, func(context.Context) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("queue hook: %v", err)
		}
	}
	if len(order) != 0 {
		t.Fatal("expected no hook to run before commit")
	}
	if err := hooks.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected hooks in queue order, got %v", order)
	}
	if err := hooks.Run(ctx); err != nil || len(order) != 2 {
		t.Error("expected hooks to run once")
	}
}

func TestCommitHooks_JoinsErrors(t *testing.T) {
	ctx, hooks := WithCommitHooks(context.Background())
	boom := errors.New("cache down")
	ranSecond := false
	_ = AfterCommit(ctx, func(context.Context) error { return boom })
	_ = AfterCommit(ctx, func(context.Context) error { ranSecond = true; return nil })

	if err := hooks.Run(ctx); !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap the failure, got %v", err)
	}
	if !ranSecond {
		t.Error("expected every hook to run despite an earlier failure")
	}
}

func TestCommitHooks_Adopt(t *testing.T) {
	ctx, parent := WithCommitHooks(context.Background())
	spCtx, child := WithCommitHooks(ctx)
	ran := false
	_ = AfterCommit(spCtx, func(context.Context) error { ran = true; return nil })

	parent.adopt(child)
	if err := child.Run(ctx); err != nil || ran {
		t.Fatal("expected adopted hooks to leave the savepoint")
	}
	if err := parent.Run(ctx); err != nil || !ran {
		t.Errorf("expected hook to run with the outer commit, ran=%v err=%v", ran, err)
	}
}
