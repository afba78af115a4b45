// Package userprog runs user programs as processes on top of kernel threads:
// spawn, wait and exit with their parent/child rendezvous, per-process
// descriptor tables and the system call boundary.
package userprog

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/LosCuervosXeneizes/nucleo/filesys"
	"github.com/LosCuervosXeneizes/nucleo/loader"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// ExitKilled is the exit status of a process terminated by the kernel.
const ExitKilled = -1

var (
	ErrNotChild            = errors.New("not a waitable child")
	ErrLoadFailed          = errors.New("load failed")
	ErrNoChildSlot         = errors.New("no child slot available")
	ErrDescriptorTableFull = errors.New("descriptor table full")
	ErrBadDescriptor       = errors.New("bad file descriptor")
)

// Program is the code of a user program. Its return value is the exit status.
type Program func(u *UserContext) int

// Config bounds per-process resources.
type Config struct {
	MaxOpenFiles int
	MaxChildren  int
}

// DefaultConfig returns the default process limits.
func DefaultConfig() Config {
	return Config{MaxOpenFiles: 128, MaxChildren: 32}
}

// Process is the process control block attached to a user thread. The
// parent and children are thread ids resolved through the Manager.
type Process struct {
	tid      threads.ID
	name     string
	parent   threads.ID
	children []threads.ID

	exitStatus int
	exited     bool
	loadOK     bool

	// loadSema: child finished loading. exitSema: child is ready to be
	// reaped. reapSema: parent consumed the status. execGate: parent has
	// recorded the child.
	loadSema *threads.Semaphore
	exitSema *threads.Semaphore
	reapSema *threads.Semaphore
	execGate *threads.Semaphore

	fds    map[int]*filesys.File
	nextFD int

	prog    *loader.Program
	entry   Program
	entrySP uint32
}

func (p *Process) hasChild(tid threads.ID) bool {
	for _, c := range p.children {
		if c == tid {
			return true
		}
	}
	return false
}

func (p *Process) removeChild(tid threads.ID) {
	for i, c := range p.children {
		if c == tid {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// ProcessInfo describes a live or zombie process.
type ProcessInfo struct {
	TID       threads.ID   `json:"tid"`
	Name      string       `json:"name"`
	Parent    threads.ID   `json:"parent"`
	Children  []threads.ID `json:"children"`
	OpenFiles int          `json:"openFiles"`
	Zombie    bool         `json:"zombie"`
}

// Manager owns every process record, indexed by thread id.
type Manager struct {
	sched   *threads.Scheduler
	loader  *loader.Loader
	fs      *filesys.Service
	console *Console
	cfg     Config

	// fsLock serialises every call into the file store.
	fsLock *threads.Lock

	mu       sync.Mutex
	procs    map[threads.ID]*Process
	programs map[string]Program
	onHalt   func()
}

// NewManager registers the calling kernel thread as the root process, the
// parent of every process spawned from it.
func NewManager(sched *threads.Scheduler, ldr *loader.Loader, fs *filesys.Service, console *Console, cfg Config) *Manager {
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultConfig().MaxOpenFiles
	}
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = DefaultConfig().MaxChildren
	}
	if console == nil {
		console = NewConsole(nil, io.Discard)
	}
	m := &Manager{
		sched:    sched,
		loader:   ldr,
		fs:       fs,
		console:  console,
		cfg:      cfg,
		fsLock:   sched.NewLock(),
		procs:    make(map[threads.ID]*Process),
		programs: make(map[string]Program),
	}
	root := m.newProcess(sched.CurrentName(), 0)
	root.tid = sched.CurrentID()
	m.procs[root.tid] = root
	return m
}

func (m *Manager) newProcess(name string, parent threads.ID) *Process {
	return &Process{
		name:     name,
		parent:   parent,
		loadSema: m.sched.NewSemaphore(0),
		exitSema: m.sched.NewSemaphore(0),
		reapSema: m.sched.NewSemaphore(0),
		execGate: m.sched.NewSemaphore(0),
		fds:      make(map[int]*filesys.File),
		nextFD:   2,
	}
}

// Register installs an executable image under name together with the code
// that runs once it is loaded.
func (m *Manager) Register(name string, image []byte, entry Program) error {
	if err := m.loader.Install(name, image); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[name] = entry
	utils.InfoLog.Debug("Program registered", "name", name, "bytes", len(image))
	return nil
}

// OnHalt sets the function invoked by the halt system call.
func (m *Manager) OnHalt(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHalt = fn
}

func (m *Manager) lookup(tid threads.ID) *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procs[tid]
}

// current returns the process of the running thread. Calling into the
// manager from a thread that is not a process is a kernel bug.
func (m *Manager) current() *Process {
	tid := m.sched.CurrentID()
	if p := m.lookup(tid); p != nil {
		return p
	}
	msg := fmt.Sprintf("kernel PANIC: thread %d is not a process", tid)
	utils.ErrorLog.Error(msg)
	panic(msg)
}

// Processes lists every process record ordered by thread id.
func (m *Manager) Processes() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ProcessInfo, 0, len(m.procs))
	for _, p := range m.procs {
		result = append(result, ProcessInfo{
			TID:       p.tid,
			Name:      p.name,
			Parent:    p.parent,
			Children:  append([]threads.ID(nil), p.children...),
			OpenFiles: len(p.fds),
			Zombie:    p.exited,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TID < result[j].TID })
	return result
}
