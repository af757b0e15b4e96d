// Package team coordinates a fixed shared-memory thread team around the single
// goroutine that issues transport calls each round.
package team

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Phase selects which team member owns a triggered section
type Phase uint8

const (
	// PhaseIssue is owned by the last thread: it packs and sends once every
	// thread has finished producing the round's values.
	PhaseIssue Phase = iota
	// PhaseDrain is owned by the first thread: it waits for remote data and
	// unpacks it.
	PhaseDrain
)

func (p Phase) String() string {
	switch p {
	case PhaseIssue:
		return "issue"
	case PhaseDrain:
		return "drain"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Coordinator elects exactly one trigger per phase and fences the triggered
// section with team barriers: every thread's compute output is visible to the
// trigger before it runs, and no thread leaves before the trigger is done.
type Coordinator struct {
	size    int
	barrier *Barrier
	err     error // Written by the trigger between the two barriers
	calls   atomic.Uint64
}

func NewCoordinator(size int) *Coordinator {
	if size <= 0 {
		panic(fmt.Sprintf("team: size must be positive, have %d", size))
	}
	return &Coordinator{
		size:    size,
		barrier: NewBarrier(size),
	}
}

func (c *Coordinator) Size() int { return c.size }

// IsTrigger is true for exactly one tid in [0,Size) per phase
func (c *Coordinator) IsTrigger(phase Phase, tid int) bool {
	switch phase {
	case PhaseDrain:
		return tid == 0
	default:
		return tid == c.size-1
	}
}

// Barrier blocks until the whole team arrives
func (c *Coordinator) Barrier() error {
	return c.barrier.Wait()
}

// Triggered runs fn on the phase's trigger only, between two team barriers.
// Every member returns the trigger's error.
func (c *Coordinator) Triggered(tid int, phase Phase, fn func() error) error {
	if err := c.barrier.Wait(); err != nil {
		return err
	}
	if c.IsTrigger(phase, tid) {
		c.calls.Add(1)
		c.err = fn()
	}
	if err := c.barrier.Wait(); err != nil {
		return err
	}
	return c.err
}

// Calls counts how many triggered sections have run
func (c *Coordinator) Calls() uint64 { return c.calls.Load() }

// Break releases every member blocked in a barrier, used when one member
// fails outside a triggered section.
func (c *Coordinator) Break(cause error) { c.barrier.Break(cause) }

// Run launches the team, one goroutine per tid, and waits for all of them.
// The first failing member breaks the barrier so the rest cannot hang.
func Run(c *Coordinator, body func(tid int) error) error {
	var g errgroup.Group
	for tid := 0; tid < c.size; tid++ {
		tid := tid
		g.Go(func() error {
			if err := body(tid); err != nil {
				c.Break(err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
