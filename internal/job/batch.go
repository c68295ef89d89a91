package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/htjob/pkg/model"
)

// Batch fans operations out over an ordered set of handles.
type Batch struct {
	handles []*Handle
}

// NewBatch groups handles, keeping their order.
func NewBatch(handles ...*Handle) *Batch {
	return &Batch{handles: append([]*Handle(nil), handles...)}
}

// Handles returns the members in order.
func (b *Batch) Handles() []*Handle {
	return append([]*Handle(nil), b.handles...)
}

// Len returns the number of members.
func (b *Batch) Len() int {
	return len(b.handles)
}

// Submit submits every member. A failing member does not stop the rest;
// the returned error joins every member failure.
func (b *Batch) Submit(ctx context.Context) error {
	return b.each(func(h *Handle) error { return h.Submit(ctx) })
}

// Hold holds every member, continuing past failures.
func (b *Batch) Hold(ctx context.Context) error {
	return b.each(func(h *Handle) error { return h.Hold(ctx) })
}

// Release releases every member, continuing past failures.
func (b *Batch) Release(ctx context.Context) error {
	return b.each(func(h *Handle) error { return h.Release(ctx) })
}

// Remove removes every member, continuing past failures.
func (b *Batch) Remove(ctx context.Context) error {
	return b.each(func(h *Handle) error { return h.Remove(ctx) })
}

func (b *Batch) each(fn func(*Handle) error) error {
	var errs []error
	for i, h := range b.handles {
		if err := fn(h); err != nil {
			errs = append(errs, fmt.Errorf("member %d (%s): %w", i, h.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// States returns each member's current state, in member order. The
// snapshot is not synchronised across members.
func (b *Batch) States() []model.JobState {
	states := make([]model.JobState, len(b.handles))
	for i, h := range b.handles {
		states[i] = h.State()
	}
	return states
}

// OutputResult is one member's OutputFiles result.
type OutputResult struct {
	Files []string
	Err   error
}

// OutputFiles returns each member's output files, in member order.
func (b *Batch) OutputFiles() []OutputResult {
	results := make([]OutputResult, len(b.handles))
	for i, h := range b.handles {
		files, err := h.OutputFiles()
		results[i] = OutputResult{Files: files, Err: err}
	}
	return results
}

// Wait blocks until every member is in one of states (any terminal state
// when none are given) or ctx is done.
func (b *Batch) Wait(ctx context.Context, states ...model.JobState) error {
	for _, h := range b.handles {
		if _, err := h.Wait(ctx, states...); err != nil {
			return err
		}
	}
	return nil
}
