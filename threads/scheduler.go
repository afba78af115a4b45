package threads

import (
	"container/heap"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/LosCuervosXeneizes/nucleo/fixedpoint"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// Config selects the scheduling policy.
type Config struct {
	// MLFQS enables the multilevel feedback queue scheduler. Priorities are
	// then derived from nice and recent CPU, and donation is disabled.
	MLFQS bool
	// Aging boosts READY threads that waited AgingInterval ticks by one level.
	Aging         bool
	AgingInterval int
	// TimeSlice is the number of ticks a thread may run before being preempted.
	TimeSlice int
	// TimerFreq is the number of ticks per second.
	TimerFreq int
	// MaxThreads bounds the registry, 0 means unlimited.
	MaxThreads int
}

// DefaultConfig returns the priority scheduler with a 4 tick time slice.
func DefaultConfig() Config {
	return Config{
		AgingInterval: 100,
		TimeSlice:     4,
		TimerFreq:     100,
		MaxThreads:    64,
	}
}

// Stats accumulates scheduler counters.
type Stats struct {
	Ticks           int64 `json:"ticks"`
	IdleTicks       int64 `json:"idleTicks"`
	KernelTicks     int64 `json:"kernelTicks"`
	ContextSwitches int64 `json:"contextSwitches"`
	ThreadsCreated  int64 `json:"threadsCreated"`
}

// Scheduler owns the thread registry, the ready queue and the sleep queue of
// one simulated CPU. Its mutex plays the role of disabling interrupts: it is
// held for every scheduling decision and released while a thread runs its
// own code.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	all      map[ID]*Thread
	ready    []*Thread
	sleepers sleepQueue
	current  *Thread
	idle     *Thread
	main     *Thread

	nextID ID
	seq    uint64

	ticks         int64
	sliceTicks    int
	loadAvg       fixedpoint.Value
	inInterrupt   bool
	yieldOnReturn bool
	stopped       bool
	hooks         []func(*Interrupt)
	stats         Stats
}

// NewScheduler turns the calling goroutine into the "main" kernel thread and
// starts the idle thread. All scheduler operations must be invoked from the
// goroutine of the currently running kernel thread.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = 4
	}
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = 100
	}
	if cfg.AgingInterval <= 0 {
		cfg.AgingInterval = cfg.TimerFreq
	}
	s := &Scheduler{
		cfg: cfg,
		all: make(map[ID]*Thread),
	}

	s.main = s.registerLocked("main", PriDefault)
	s.main.transition(StatusRunning, queueNone)
	s.current = s.main
	if cfg.MLFQS {
		s.mlfqsPriorityLocked(s.main)
	}

	s.idle = s.registerLocked("idle", PriMin)
	go s.idleLoop()

	utils.InfoLog.Info("Scheduler started", "mlfqs", cfg.MLFQS, "aging", cfg.Aging, "time_slice", cfg.TimeSlice)
	return s
}

func (s *Scheduler) registerLocked(name string, priority int) *Thread {
	s.nextID++
	t := newThread(s.nextID, name, clampPriority(priority))
	s.all[t.id] = t
	s.stats.ThreadsCreated++
	return t
}

// Create starts a new kernel thread running fn. The thread inherits nice and
// recent CPU from its creator and preempts it if its priority is higher.
// When fn returns the thread exits.
func (s *Scheduler) Create(name string, priority int, fn func()) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("thread create")

	if s.cfg.MaxThreads > 0 && len(s.all)-1 >= s.cfg.MaxThreads {
		return IDError, fmt.Errorf("creating thread %q: %w", name, ErrNoThreadSlot)
	}

	parent := s.current
	t := s.registerLocked(name, priority)
	t.nice = parent.nice
	t.recentCPU = parent.recentCPU
	if s.cfg.MLFQS {
		s.mlfqsPriorityLocked(t)
	}
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Thread created: %s priority %d", t.id, name, t.priority))

	go s.run(t, fn)
	s.unblockLocked(t)
	s.preemptLocked()
	return t.id, nil
}

func (s *Scheduler) run(t *Thread, fn func()) {
	t.permit.Wait()
	fn()
	s.Exit()
}

// Exit terminates the running thread. It never returns.
func (s *Scheduler) Exit() {
	s.mu.Lock()
	cur := s.current
	if cur == s.main {
		s.mu.Unlock()
		kernelPanic("main thread cannot exit")
	}
	if len(cur.heldLocks) > 0 {
		s.mu.Unlock()
		kernelPanic("thread %d (%s) exiting while holding %d lock(s)", cur.id, cur.name, len(cur.heldLocks))
	}
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Thread exits: %s", cur.id, cur.name))
	cur.transition(StatusDying, queueNone)
	s.scheduleLocked()
}

// Yield moves the running thread to the back of the ready queue and runs
// the next thread.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("yield")
	s.yieldLocked()
}

func (s *Scheduler) yieldLocked() {
	cur := s.current
	if cur != s.idle {
		s.pushReadyLocked(cur)
	}
	s.scheduleLocked()
}

// Sleep blocks the running thread for at least ticks timer ticks.
func (s *Scheduler) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("sleep")

	cur := s.current
	s.seq++
	cur.seq = s.seq
	cur.wakeAt = s.ticks + ticks
	cur.transition(StatusBlocked, queueSleep)
	heap.Push(&s.sleepers, cur)
	s.scheduleLocked()
}

// Tick delivers one timer interrupt on behalf of the running thread and
// preempts it if its time slice expired or a higher priority thread is ready.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	if s.yieldOnReturn {
		s.yieldOnReturn = false
		s.yieldLocked()
	}
}

// OnTick registers a hook run from the timer interrupt. Hooks must not block.
func (s *Scheduler) OnTick(hook func(*Interrupt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Scheduler) interruptLocked() {
	s.inInterrupt = true
	s.tickLocked()
	s.inInterrupt = false
}

func (s *Scheduler) tickLocked() {
	s.ticks++
	s.stats.Ticks++
	cur := s.current
	if cur == s.idle {
		s.stats.IdleTicks++
	} else {
		s.stats.KernelTicks++
		cur.recentCPU = cur.recentCPU.SaturatingAddInt(1)
	}

	if s.cfg.MLFQS {
		if s.ticks%int64(s.cfg.TimerFreq) == 0 {
			s.updateLoadAvgLocked()
			s.updateRecentCPULocked()
		}
		if s.ticks%4 == 0 {
			s.updatePrioritiesLocked()
		}
	} else if s.cfg.Aging && s.ticks%int64(s.cfg.AgingInterval) == 0 {
		s.ageLocked()
	}

	s.wakeSleepersLocked()
	for _, hook := range s.hooks {
		hook(&Interrupt{s: s})
	}

	if cur != s.idle {
		s.sliceTicks++
		if s.sliceTicks >= s.cfg.TimeSlice {
			s.yieldOnReturn = true
		}
	}
	if s.maxReadyPriorityLocked() > cur.priority {
		s.yieldOnReturn = true
	}
}

// unblockLocked makes a BLOCKED thread READY. It does not preempt.
func (s *Scheduler) unblockLocked(t *Thread) {
	if t.status != StatusBlocked {
		kernelPanic("unblock of thread %d (%s) in state %s", t.id, t.name, t.status)
	}
	s.pushReadyLocked(t)
}

// preemptLocked yields if a READY thread outranks the running one. Inside an
// interrupt the yield is deferred until the handler returns.
func (s *Scheduler) preemptLocked() {
	if s.current == s.idle || s.maxReadyPriorityLocked() <= s.current.priority {
		return
	}
	if s.inInterrupt {
		s.yieldOnReturn = true
		return
	}
	s.yieldLocked()
}

// scheduleLocked switches the CPU from the running thread, which must already
// have left the RUNNING state, to the next thread. It returns once the caller
// is selected again; a DYING caller never returns.
func (s *Scheduler) scheduleLocked() {
	cur := s.current
	if cur.status == StatusRunning {
		kernelPanic("schedule called by running thread %d (%s)", cur.id, cur.name)
	}

	next := s.popReadyLocked()
	if next == s.idle && s.stopped {
		kernelPanic("thread %d (%s) blocked after the scheduler stopped", cur.id, cur.name)
	}
	next.transition(StatusRunning, queueNone)
	s.current = next
	s.sliceTicks = 0
	if next != cur {
		s.stats.ContextSwitches++
		next.permit.Signal()
	}

	if cur.status == StatusDying {
		delete(s.all, cur.id)
		s.mu.Unlock()
		runtime.Goexit()
	}
	if next == cur {
		return
	}
	s.mu.Unlock()
	cur.permit.Wait()
	s.mu.Lock()
}

func (s *Scheduler) idleLoop() {
	s.idle.permit.Wait()
	s.mu.Lock()
	for {
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.ready) > 0 {
			s.idle.transition(StatusBlocked, queueNone)
			s.scheduleLocked()
			continue
		}
		if s.sleepers.Len() == 0 {
			s.mu.Unlock()
			kernelPanic("deadlock: no thread is ready or sleeping")
		}
		// Nothing runnable: let virtual time pass until a sleeper is due.
		s.interruptLocked()
		s.yieldOnReturn = false
	}
}

// Stop ends the idle thread. It is the last scheduler call the running
// thread makes: once stopped, nothing may block waiting to be scheduled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertNotInterrupt("scheduler stop")
	if s.stopped {
		return
	}
	s.stopped = true
	if s.current != s.idle {
		s.idle.permit.Signal()
	}
	utils.InfoLog.Info("Scheduler stopped", "ticks", s.ticks, "threads", len(s.all))
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// assertNotInterrupt must be called with s.mu held by a caller that defers
// its release.
func (s *Scheduler) assertNotInterrupt(op string) {
	if s.inInterrupt {
		kernelPanic("%s called from interrupt context", op)
	}
}

// CurrentID returns the id of the running thread.
func (s *Scheduler) CurrentID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.id
}

// CurrentName returns the name of the running thread.
func (s *Scheduler) CurrentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.name
}

// Ticks returns the number of timer ticks since boot.
func (s *Scheduler) Ticks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Alive reports whether id names a registered thread that has not exited.
func (s *Scheduler) Alive(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.all[id]
	return ok
}

// Snapshot returns the state of every registered thread ordered by id.
func (s *Scheduler) Snapshot() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]ThreadInfo, 0, len(s.all))
	for _, t := range s.all {
		result = append(result, t.info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetPriority sets the running thread's base priority. It is ignored under
// MLFQS. The thread yields if it no longer has the highest priority.
func (s *Scheduler) SetPriority(priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MLFQS {
		return
	}
	cur := s.current
	cur.basePriority = clampPriority(priority)
	s.refreshPriorityLocked(cur, 0)
	s.preemptLocked()
}

// Priority returns the running thread's effective priority.
func (s *Scheduler) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.priority
}

// SetNice sets the running thread's niceness, clamped to [NiceMin, NiceMax],
// and recomputes its priority under MLFQS.
func (s *Scheduler) SetNice(nice int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nice < NiceMin {
		nice = NiceMin
	}
	if nice > NiceMax {
		nice = NiceMax
	}
	cur := s.current
	cur.nice = nice
	if s.cfg.MLFQS {
		s.mlfqsPriorityLocked(cur)
		s.preemptLocked()
	}
}

// Nice returns the running thread's niceness.
func (s *Scheduler) Nice() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.nice
}

// RecentCPU returns 100 times the running thread's recent CPU estimate, rounded.
func (s *Scheduler) RecentCPU() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.recentCPU.Scaled(100)
}

// LoadAvg returns 100 times the system load average, rounded.
func (s *Scheduler) LoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.Scaled(100)
}

// Interrupt is the view of the scheduler handed to timer hooks. It only
// offers operations that never block.
type Interrupt struct {
	s *Scheduler
}

// Ticks returns the tick being delivered.
func (i *Interrupt) Ticks() int64 { return i.s.ticks }

// Up releases sem from interrupt context. Any preemption it causes happens
// when the interrupt returns.
func (i *Interrupt) Up(sem *Semaphore) {
	sem.upLocked()
	i.s.preemptLocked()
}
