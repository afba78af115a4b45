package threads

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSemaphore_WakesHighestPriorityFirst(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	s.SetPriority(PriMin)
	sema := s.NewSemaphore(0)

	var woken []string
	for _, w := range []struct {
		name     string
		priority int
	}{{"p10", 10}, {"p30a", 30}, {"p20", 20}, {"p30b", 30}} {
		name := w.name
		_, err := s.Create(name, w.priority, func() {
			sema.Down()
			woken = append(woken, name)
		})
		assert.NoError(t, err)
	}
	assert.Empty(t, woken)

	for i := 0; i < 4; i++ {
		sema.Up()
		assert.Equal(t, 0, sema.Value())
	}
	assert.Equal(t, []string{"p30a", "p30b", "p20", "p10"}, woken)
}

func TestSemaphore_DownNeverBlocksWithTokens(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	sema := s.NewSemaphore(2)
	sema.Down()
	sema.Down()
	assert.Equal(t, 0, sema.Value())
	assert.False(t, sema.TryDown())
	sema.Up()
	assert.True(t, sema.TryDown())
	assert.Equal(t, 0, sema.Value())
	assert.Equal(t, int64(0), s.Stats().ContextSwitches)
}

func TestLock_PriorityDonation(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	s.SetPriority(10)
	lock := s.NewLock()
	lock.Acquire()

	var events []string
	_, err := s.Create("high", 20, func() {
		lock.Acquire()
		events = append(events, "high acquired")
		lock.Release()
	})
	assert.NoError(t, err)

	assert.Equal(t, 20, s.Priority())
	assert.Empty(t, events)

	lock.Release()
	assert.Equal(t, []string{"high acquired"}, events)
	assert.Equal(t, 10, s.Priority())
}

func TestLock_NestedDonation(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	s.SetPriority(10)
	a, b := s.NewLock(), s.NewLock()
	a.Acquire()

	var events []string
	_, _ = s.Create("medium", 20, func() {
		b.Acquire()
		a.Acquire()
		events = append(events, "medium")
		a.Release()
		b.Release()
		events = append(events, "medium done")
	})
	assert.Equal(t, 20, s.Priority())

	_, _ = s.Create("high", 30, func() {
		b.Acquire()
		events = append(events, "high")
		b.Release()
	})
	assert.Equal(t, 30, s.Priority())

	a.Release()
	assert.Equal(t, []string{"medium", "high", "medium done"}, events)
	assert.Equal(t, 10, s.Priority())
}

func TestLock_DonationDisabledUnderMLFQS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MLFQS = true
	s := NewScheduler(cfg)
	lock := s.NewLock()
	lock.Acquire()
	before := s.Priority()

	s.SetPriority(PriMin)
	assert.Equal(t, before, s.Priority())
	assert.True(t, lock.HeldByCurrent())
	lock.Release()
	assert.False(t, lock.HeldByCurrent())
}

func TestLock_TryAcquire(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	lock := s.NewLock()
	assert.True(t, lock.TryAcquire())
	assert.True(t, lock.HeldByCurrent())

	var got bool
	_, _ = s.Create("other", PriMax, func() { got = lock.TryAcquire() })
	assert.False(t, got)
	lock.Release()
}

func TestCond_SignalsHighestPriorityFirst(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	s.SetPriority(PriMin)
	lock := s.NewLock()
	cond := s.NewCond()

	var woken []string
	for _, priority := range []int{10, 30, 20} {
		name := fmt.Sprintf("p%d", priority)
		_, _ = s.Create(name, priority, func() {
			lock.Acquire()
			cond.Wait(lock)
			woken = append(woken, name)
			lock.Release()
		})
	}

	for i := 0; i < 3; i++ {
		lock.Acquire()
		cond.Signal(lock)
		lock.Release()
	}
	assert.Equal(t, []string{"p30", "p20", "p10"}, woken)
}

func TestCond_Broadcast(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	s.SetPriority(PriMin)
	lock := s.NewLock()
	cond := s.NewCond()

	woken := 0
	for i := 0; i < 3; i++ {
		_, _ = s.Create(fmt.Sprintf("w%d", i), 20, func() {
			lock.Acquire()
			cond.Wait(lock)
			woken++
			lock.Release()
		})
	}
	lock.Acquire()
	cond.Broadcast(lock)
	lock.Release()
	assert.Equal(t, 3, woken)
}

func TestInvariantViolationsPanic(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	lock := s.NewLock()
	cond := s.NewCond()

	assert.Panics(t, func() { lock.Release() })
	assert.Panics(t, func() { cond.Signal(lock) })
	assert.Panics(t, func() { cond.Wait(lock) })

	lock.Acquire()
	assert.Panics(t, func() { lock.Acquire() })
	lock.Release()

	assert.Panics(t, func() { s.Exit() })
	assert.Panics(t, func() { s.NewSemaphore(-1) })

	// The scheduler remains usable after each reported violation.
	lock.Acquire()
	lock.Release()
	assert.Equal(t, PriDefault, s.Priority())
}
