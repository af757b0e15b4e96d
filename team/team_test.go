package team

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier(t *testing.T) {
	{ // Test reuse across generations
		var (
			b       = NewBarrier(4)
			arrived atomic.Int32
		)
		err := Run(NewCoordinator(4), func(tid int) error {
			for round := 0; round < 10; round++ {
				arrived.Add(1)
				if err := b.Wait(); err != nil {
					return err
				}
				// Nobody passes before everyone of this round arrived
				if got := arrived.Load(); got < int32(4*(round+1)) {
					return errors.New("barrier let a member through early")
				}
				if err := b.Wait(); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(20), b.Generation())
	}
	{ // Test break releases waiters and sticks
		var (
			b     = NewBarrier(2)
			cause = errors.New("peer failed")
			done  = make(chan error)
		)
		go func() { done <- b.Wait() }()
		b.Break(cause)
		err := <-done
		assert.True(t, errors.Is(err, ErrBroken))
		assert.True(t, errors.Is(err, cause))
		assert.True(t, errors.Is(b.Wait(), cause))
		b.Break(errors.New("second"))
		assert.True(t, errors.Is(b.Wait(), cause))
	}
	{ // Test a nil cause
		b := NewBarrier(1)
		b.Break(nil)
		assert.Equal(t, ErrBroken, b.Wait())
	}
	assert.Panics(t, func() { NewBarrier(0) })
}

func TestCoordinator(t *testing.T) {
	{ // Test exactly one trigger per phase
		for _, size := range []int{1, 2, 7} {
			c := NewCoordinator(size)
			for _, phase := range []Phase{PhaseIssue, PhaseDrain} {
				n := 0
				for tid := 0; tid < size; tid++ {
					if c.IsTrigger(phase, tid) {
						n++
					}
				}
				assert.Equal(t, 1, n, "size %d phase %s", size, phase)
			}
			assert.True(t, c.IsTrigger(PhaseIssue, size-1))
			assert.True(t, c.IsTrigger(PhaseDrain, 0))
		}
	}
	{ // Test the triggered section runs once per round for any team size
		for _, size := range []int{1, 3, 8} {
			var (
				c      = NewCoordinator(size)
				runs   atomic.Int32
				rounds = 25
				phase  = PhaseIssue
			)
			err := Run(c, func(tid int) error {
				for round := 0; round < rounds; round++ {
					err := c.Triggered(tid, phase, func() error {
						runs.Add(1)
						return nil
					})
					if err != nil {
						return err
					}
					// Every member sees the section finished
					if got := runs.Load(); got != int32(round+1) {
						return errors.New("left the triggered section early")
					}
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, int32(rounds), runs.Load())
			assert.Equal(t, uint64(rounds), c.Calls())
		}
	}
	{ // Test the trigger's error reaches every member
		var (
			c       = NewCoordinator(3)
			failure = errors.New("send failed")
			seen    atomic.Int32
		)
		err := Run(c, func(tid int) error {
			err := c.Triggered(tid, PhaseDrain, func() error { return failure })
			if errors.Is(err, failure) {
				seen.Add(1)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), seen.Load())
	}
	{ // Test a failing member cannot strand the rest of the team
		var (
			c       = NewCoordinator(4)
			failure = errors.New("compute failed")
		)
		err := Run(c, func(tid int) error {
			if tid == 2 {
				return failure
			}
			for {
				if err := c.Triggered(tid, PhaseIssue, func() error { return nil }); err != nil {
					return err
				}
			}
		})
		assert.True(t, errors.Is(err, failure) || errors.Is(err, ErrBroken))
	}
	assert.Equal(t, "drain", PhaseDrain.String())
	assert.Panics(t, func() { NewCoordinator(0) })
}
