package threads

// Lock is a binary semaphore with an owner. While a higher priority thread
// waits for it, the holder runs with the waiter's priority (donation), and
// the donation follows the chain of locks the holder itself waits on.
type Lock struct {
	sched  *Scheduler
	sema   *Semaphore
	holder *Thread
}

// NewLock returns an unheld lock.
func (s *Scheduler) NewLock() *Lock {
	return &Lock{sched: s, sema: s.NewSemaphore(1)}
}

// Acquire blocks until the lock is free and takes it. Acquiring a lock the
// caller already holds is fatal.
func (l *Lock) Acquire() {
	s := l.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("lock acquire")

	cur := s.current
	if l.holder == cur {
		kernelPanic("thread %d (%s) acquires a lock it already holds", cur.id, cur.name)
	}
	l.sema.downLocked(func(waiter *Thread) {
		waiter.waitingOn = l
		if !s.cfg.MLFQS && l.holder != nil {
			s.refreshPriorityLocked(l.holder, 0)
		}
	})
	cur.waitingOn = nil
	l.holder = cur
	cur.heldLocks = append(cur.heldLocks, l)
	s.refreshPriorityLocked(cur, 0)
}

// TryAcquire takes the lock if it is free, without blocking.
func (l *Lock) TryAcquire() bool {
	s := l.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.sema.value == 0 {
		return false
	}
	cur := s.current
	l.sema.value--
	l.holder = cur
	cur.heldLocks = append(cur.heldLocks, l)
	s.refreshPriorityLocked(cur, 0)
	return true
}

// Release gives the lock up, drops the priority donated through it and
// yields if a waiter now outranks the caller. Releasing a lock the caller
// does not hold is fatal.
func (l *Lock) Release() {
	s := l.sched
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	if l.holder != cur {
		kernelPanic("thread %d (%s) releases a lock it does not hold", cur.id, cur.name)
	}
	l.holder = nil
	for i, held := range cur.heldLocks {
		if held == l {
			cur.heldLocks = append(cur.heldLocks[:i], cur.heldLocks[i+1:]...)
			break
		}
	}
	s.refreshPriorityLocked(cur, 0)
	l.sema.upLocked()
	s.preemptLocked()
}

// HeldByCurrent reports whether the running thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	s := l.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.holder != nil && l.holder == s.current
}

// refreshPriorityLocked recomputes t's effective priority as the maximum of
// its base priority and the priorities of threads waiting on locks it holds,
// then propagates the result to the holder of the lock t waits on.
func (s *Scheduler) refreshPriorityLocked(t *Thread, depth int) {
	p := t.basePriority
	if !s.cfg.MLFQS {
		for _, held := range t.heldLocks {
			for _, w := range held.sema.waiters {
				if w.priority > p {
					p = w.priority
				}
			}
		}
	}
	t.priority = p

	if depth >= maxDonationDepth || t.waitingOn == nil {
		return
	}
	if holder := t.waitingOn.holder; holder != nil && holder != t {
		s.refreshPriorityLocked(holder, depth+1)
	}
}
