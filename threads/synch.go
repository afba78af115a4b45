package threads

// Semaphore is a counting semaphore whose waiters are woken highest
// priority first, earliest arrival among equals.
type Semaphore struct {
	sched   *Scheduler
	value   int
	waiters []*Thread
}

// NewSemaphore returns a semaphore with an initial value of n.
func (s *Scheduler) NewSemaphore(n int) *Semaphore {
	if n < 0 {
		kernelPanic("semaphore initialised with negative value %d", n)
	}
	return &Semaphore{sched: s, value: n}
}

// Down waits for the value to become positive and decrements it.
func (sem *Semaphore) Down() {
	s := sem.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("sema down")
	sem.downLocked(nil)
}

// downLocked blocks until a token is available. beforeBlock, when set, runs
// each time the caller has been queued and is about to give up the CPU.
func (sem *Semaphore) downLocked(beforeBlock func(cur *Thread)) {
	s := sem.sched
	for sem.value == 0 {
		cur := s.current
		sem.waiters = append(sem.waiters, cur)
		cur.transition(StatusBlocked, queueWait)
		if beforeBlock != nil {
			beforeBlock(cur)
		}
		s.scheduleLocked()
	}
	sem.value--
}

// TryDown decrements the value if it is positive, without blocking.
func (sem *Semaphore) TryDown() bool {
	s := sem.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if sem.value == 0 {
		return false
	}
	sem.value--
	return true
}

// Up increments the value and wakes the highest priority waiter, yielding to
// it if it outranks the caller. Up never blocks and may be called from a
// timer hook, where any preemption waits until the interrupt returns.
func (sem *Semaphore) Up() {
	s := sem.sched
	// A hook runs on the thread delivering the tick, which already holds s.mu.
	if s.inInterrupt {
		sem.upLocked()
		s.preemptLocked()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sem.upLocked()
	s.preemptLocked()
}

func (sem *Semaphore) upLocked() {
	if i := highestIndex(sem.waiters); i >= 0 {
		t := sem.waiters[i]
		sem.waiters = removeAt(sem.waiters, i)
		sem.sched.unblockLocked(t)
	}
	sem.value++
}

// Value returns the current value.
func (sem *Semaphore) Value() int {
	sem.sched.mu.Lock()
	defer sem.sched.mu.Unlock()
	return sem.value
}
