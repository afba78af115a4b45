package userprog

import (
	"context"
	"fmt"

	"github.com/LosCuervosXeneizes/nucleo/loader"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/tracing"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// Spawn starts the program named by the first word of cmdline as a child of
// the running process. It returns once the child has finished loading.
func (m *Manager) Spawn(cmdline string) (threads.ID, error) {
	_, span := tracing.StartSpan(context.Background(), "process.spawn", "INTERNAL")
	span.WithAttributes(map[string]string{"cmdline": cmdline})
	tid, err := m.spawn(cmdline)
	tracing.EndSpan(span, err)
	return tid, err
}

func (m *Manager) spawn(cmdline string) (threads.ID, error) {
	parent := m.current()
	argv, err := loader.ParseCommandLine(cmdline)
	if err != nil {
		return threads.IDError, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	m.mu.Lock()
	full := len(parent.children) >= m.cfg.MaxChildren
	m.mu.Unlock()
	if full {
		return threads.IDError, fmt.Errorf("process %d has %d children: %w", parent.tid, m.cfg.MaxChildren, ErrNoChildSlot)
	}

	child := m.newProcess(argv[0], parent.tid)
	tid, err := m.sched.Create(argv[0], threads.PriDefault, func() { m.start(child, cmdline) })
	if err != nil {
		return threads.IDError, fmt.Errorf("spawning %s: %w", argv[0], err)
	}
	m.mu.Lock()
	parent.children = append(parent.children, tid)
	m.mu.Unlock()

	child.loadSema.Down()

	m.mu.Lock()
	ok := child.loadOK
	if !ok {
		parent.removeChild(tid)
	}
	m.mu.Unlock()
	child.execGate.Up()

	if !ok {
		return threads.IDError, fmt.Errorf("spawning %s: %w", argv[0], ErrLoadFailed)
	}
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Se crea el proceso: %s (padre %d)", tid, argv[0], parent.tid))
	return tid, nil
}

// start is the body of a child thread: load, report, wait for the parent to
// record the child, then run.
func (m *Manager) start(p *Process, cmdline string) {
	p.tid = m.sched.CurrentID()
	m.mu.Lock()
	m.procs[p.tid] = p
	entry, known := m.programs[p.name]
	m.mu.Unlock()

	m.fsLock.Acquire()
	prog, err := m.loader.Load(p.tid, cmdline)
	if err == nil && !known {
		prog.Space.Destroy()
		_ = prog.File.Close()
		prog, err = nil, fmt.Errorf("%s has no code: %w", p.name, loader.ErrUnknownProgram)
	}
	m.fsLock.Release()

	m.mu.Lock()
	p.prog = prog
	p.entry = entry
	if prog != nil {
		p.entrySP = uint32(prog.Space.StackPointer())
	}
	p.loadOK = err == nil
	m.mu.Unlock()

	p.loadSema.Up()
	p.execGate.Down()

	if err != nil {
		m.mu.Lock()
		delete(m.procs, p.tid)
		m.mu.Unlock()
		return
	}
	m.exit(p, p.entry(&UserContext{m: m, p: p}), true)
}

// Wait blocks until child tid exits and returns its exit status. A child can
// be waited for once.
func (m *Manager) Wait(tid threads.ID) (int, error) {
	_, span := tracing.StartSpan(context.Background(), "process.wait", "INTERNAL")
	span.WithAttributes(map[string]string{"tid": fmt.Sprint(tid)})
	status, err := m.wait(tid)
	tracing.EndSpan(span, err)
	return status, err
}

func (m *Manager) wait(tid threads.ID) (int, error) {
	parent := m.current()
	m.mu.Lock()
	child, ok := m.procs[tid]
	ok = ok && parent.hasChild(tid)
	m.mu.Unlock()
	if !ok {
		return ExitKilled, fmt.Errorf("process %d waiting on %d: %w", parent.tid, tid, ErrNotChild)
	}

	child.exitSema.Down()

	m.mu.Lock()
	status := child.exitStatus
	parent.removeChild(tid)
	m.mu.Unlock()
	child.reapSema.Up()

	utils.InfoLog.Debug(fmt.Sprintf("## (%d) - Hijo %d recolectado con estado %d", parent.tid, tid, status))
	return status, nil
}

// Exit terminates the running process with status. It never returns.
func (m *Manager) Exit(status int) {
	m.exit(m.current(), status, true)
}

// exit releases everything p owns, hands status to a parent that can still
// wait for it and ends the thread. No deferred call may run past this point
// because the thread terminates with runtime.Goexit.
func (m *Manager) exit(p *Process, status int, announce bool) {
	if announce {
		m.console.Printf("%s: exit(%d)\n", p.name, status)
	}
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Finaliza el proceso: %s estado %d", p.tid, p.name, status))
	m.release(p)

	m.mu.Lock()
	var zombies []*Process
	for _, tid := range p.children {
		child, ok := m.procs[tid]
		if !ok {
			continue
		}
		if child.exited {
			zombies = append(zombies, child)
		} else {
			child.parent = threads.IDError
		}
	}
	p.children = nil
	p.exitStatus = status
	p.exited = true
	parent, ok := m.procs[p.parent]
	waitable := ok && parent.hasChild(p.tid)
	if !waitable {
		delete(m.procs, p.tid)
	}
	m.mu.Unlock()

	for _, z := range zombies {
		z.reapSema.Up()
	}
	if waitable {
		p.exitSema.Up()
		p.reapSema.Down()
		m.mu.Lock()
		delete(m.procs, p.tid)
		m.mu.Unlock()
	}
	m.sched.Exit()
}

// release closes descriptors from the highest down, then the executable,
// and tears down the address space.
func (m *Manager) release(p *Process) {
	m.mu.Lock()
	fds := make([]int, 0, len(p.fds))
	for fd := range p.fds {
		fds = append(fds, fd)
	}
	m.mu.Unlock()
	sortDescending(fds)

	m.fsLock.Acquire()
	for _, fd := range fds {
		m.mu.Lock()
		f := p.fds[fd]
		delete(p.fds, fd)
		m.mu.Unlock()
		if err := f.Close(); err != nil {
			utils.ErrorLog.Error("Error cerrando descriptor", "tid", p.tid, "fd", fd, "error", err)
		}
	}
	if p.prog != nil {
		if err := p.prog.File.Close(); err != nil {
			utils.ErrorLog.Error("Error cerrando ejecutable", "tid", p.tid, "error", err)
		}
	}
	m.fsLock.Release()

	if p.prog != nil {
		p.prog.Space.Destroy()
	}
}

// halt runs the halt hook and ends p without an exit line.
func (m *Manager) halt(p *Process) {
	m.mu.Lock()
	hook := m.onHalt
	m.mu.Unlock()
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - %s solicita HALT", p.tid, p.name))
	if hook != nil {
		hook()
	}
	m.exit(p, 0, false)
}
