package db

import (
	"context"
	"errors"
)

const commitHooksKey contextKey = "db_commit_hooks"

// CommitHooks collects work that must only happen once the enclosing
// transaction has committed, such as dropping cache entries for rows it wrote.
type CommitHooks struct {
	fns []func(ctx context.Context) error
}

// WithCommitHooks returns a context whose AfterCommit calls queue on the
// returned hooks instead of running immediately.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, commitHooksKey, h), h
}

// AfterCommit runs fn once the transaction carried by ctx commits. Without a
// transaction fn runs now and its error is returned.
func AfterCommit(ctx context.Context, fn func(ctx context.Context) error) error {
	if h, ok := ctx.Value(commitHooksKey).(*CommitHooks); ok {
		h.fns = append(h.fns, fn)
		return nil
	}
	return fn(ctx)
}

// Run executes the queued hooks in order. Every hook runs; their errors are
// joined.
func (h *CommitHooks) Run(ctx context.Context) error {
	var errs []error
	for _, fn := range h.fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.fns = nil
	return errors.Join(errs...)
}

// adopt moves hooks queued in a released savepoint to the enclosing
// transaction.
func (h *CommitHooks) adopt(child *CommitHooks) {
	h.fns = append(h.fns, child.fns...)
	child.fns = nil
}
