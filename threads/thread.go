// Package threads implements kernel threads on a single simulated CPU: the
// thread registry, the priority and MLFQS scheduler, and the semaphore, lock
// and condition variable primitives built on top of it.
//
// Every kernel thread is a goroutine. A thread only executes while it holds
// its run permit, and the scheduler hands exactly one permit out at a time, so
// at most one kernel thread is ever running.
package threads

import (
	"errors"
	"fmt"

	"github.com/LosCuervosXeneizes/nucleo/fixedpoint"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// ID identifies a thread. Ids are positive and never reused within a Scheduler.
type ID int

// IDError is returned in place of an id when thread creation fails.
const IDError ID = -1

const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	NiceMin = -20
	NiceMax = 20

	maxDonationDepth = 8
)

// ErrNoThreadSlot is returned by Create when the thread table is full.
var ErrNoThreadSlot = errors.New("no thread slot available")

// Status is the lifecycle state of a thread.
type Status int

const (
	StatusRunning Status = iota
	StatusReady
	StatusBlocked
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// queueTag records which scheduler queue a thread is linked into.
type queueTag int

const (
	queueNone queueTag = iota
	queueReady
	queueWait
	queueSleep
)

func (q queueTag) String() string {
	switch q {
	case queueReady:
		return "ready"
	case queueWait:
		return "wait"
	case queueSleep:
		return "sleep"
	}
	return "none"
}

// Thread is a thread control block. All fields are guarded by the owning
// Scheduler's mutex.
type Thread struct {
	id     ID
	name   string
	status Status
	queue  queueTag

	basePriority int
	priority     int
	nice         int
	recentCPU    fixedpoint.Value

	seq        uint64
	wakeAt     int64
	readySince int64

	heldLocks []*Lock
	waitingOn *Lock

	permit *utils.Semaforo
}

// ThreadInfo is a point-in-time copy of a thread's scheduling state.
type ThreadInfo struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Queue        string `json:"queue"`
	Priority     int    `json:"priority"`
	BasePriority int    `json:"basePriority"`
	Nice         int    `json:"nice"`
	RecentCPU    int    `json:"recentCpu"`
}

func newThread(id ID, name string, priority int) *Thread {
	return &Thread{
		id:           id,
		name:         name,
		status:       StatusBlocked,
		basePriority: priority,
		priority:     priority,
		permit:       utils.NewSemaforo(1, 0),
	}
}

func (t *Thread) info() ThreadInfo {
	return ThreadInfo{
		ID:           t.id,
		Name:         t.name,
		Status:       t.status.String(),
		Queue:        t.queue.String(),
		Priority:     t.priority,
		BasePriority: t.basePriority,
		Nice:         t.nice,
		RecentCPU:    t.recentCPU.Scaled(100),
	}
}

// transition moves t to status on queue q, rejecting combinations the state
// machine does not allow.
func (t *Thread) transition(status Status, q queueTag) {
	valid := false
	switch status {
	case StatusRunning, StatusDying:
		valid = q == queueNone
	case StatusReady:
		valid = q == queueReady
	case StatusBlocked:
		valid = q != queueReady
	}
	if !valid {
		kernelPanic("thread %d (%s): invalid transition to %s on %s queue", t.id, t.name, status, q)
	}
	if t.status == StatusDying {
		kernelPanic("thread %d (%s): transition after exit", t.id, t.name)
	}

	if t.status != status {
		utils.InfoLog.Debug(fmt.Sprintf("(%d) - State %s -> %s", t.id, t.status, status))
	}
	t.status = status
	t.queue = q
}

// kernelPanic reports a violated kernel invariant. These are programming
// errors and are never turned into error values.
func kernelPanic(format string, args ...interface{}) {
	msg := fmt.Sprintf("kernel PANIC: "+format, args...)
	utils.ErrorLog.Error(msg)
	panic(msg)
}

func clampPriority(p int) int {
	if p < PriMin {
		return PriMin
	}
	if p > PriMax {
		return PriMax
	}
	return p
}
