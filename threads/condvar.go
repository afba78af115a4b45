package threads

type condWaiter struct {
	thread *Thread
	sema   *Semaphore
}

// Cond is a condition variable used together with a Lock. Signal wakes the
// highest priority waiter.
type Cond struct {
	sched   *Scheduler
	waiters []*condWaiter
}

// NewCond returns a condition variable with no waiters.
func (s *Scheduler) NewCond() *Cond {
	return &Cond{sched: s}
}

// Wait atomically releases l and blocks until signalled, then reacquires l.
func (c *Cond) Wait(l *Lock) {
	s := c.sched
	s.mu.Lock()
	cur := s.current
	if l.holder != cur {
		s.mu.Unlock()
		kernelPanic("thread %d (%s) waits on a condition without holding its lock", cur.id, cur.name)
	}
	w := &condWaiter{thread: cur, sema: s.NewSemaphore(0)}
	c.waiters = append(c.waiters, w)
	s.mu.Unlock()

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes one waiter, if any. The caller must hold l.
func (c *Cond) Signal(l *Lock) {
	s := c.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	c.assertHolder(l)
	c.signalLocked()
	s.preemptLocked()
}

// Broadcast wakes every waiter. The caller must hold l.
func (c *Cond) Broadcast(l *Lock) {
	s := c.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	c.assertHolder(l)
	for len(c.waiters) > 0 {
		c.signalLocked()
	}
	s.preemptLocked()
}

func (c *Cond) assertHolder(l *Lock) {
	if cur := c.sched.current; l.holder != cur {
		kernelPanic("thread %d (%s) signals a condition without holding its lock", cur.id, cur.name)
	}
}

func (c *Cond) signalLocked() {
	best := -1
	for i, w := range c.waiters {
		if best < 0 || w.thread.priority > c.waiters[best].thread.priority {
			best = i
		}
	}
	if best < 0 {
		return
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	w.sema.upLocked()
}
