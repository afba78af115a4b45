// Package kernel boots the scheduler, virtual memory, file store, loader and
// process manager from one configuration and tears them down again.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/LosCuervosXeneizes/nucleo/filesys"
	"github.com/LosCuervosXeneizes/nucleo/internal/idgen"
	"github.com/LosCuervosXeneizes/nucleo/loader"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/tracing"
	"github.com/LosCuervosXeneizes/nucleo/userprog"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/LosCuervosXeneizes/nucleo/vm"
	"github.com/viant/afs"
)

// Version is reported in traces and status replies.
const Version = "1.0.0"

// Kernel is a booted kernel. The goroutine that called Boot is its main
// thread: Run and Register must be called from it.
type Kernel struct {
	id  string
	cfg Config
	ctx context.Context
	fs  afs.Service

	sched  *threads.Scheduler
	swap   *vm.SwapTable
	frames *vm.FrameTable
	files  *filesys.Service
	loader *loader.Loader
	procs  *userprog.Manager

	halted   atomic.Bool
	shutdown sync.Once
}

// Status is a point-in-time view of the kernel.
type Status struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Ticks     int64                  `json:"ticks"`
	Halted    bool                   `json:"halted"`
	LoadAvg   int                    `json:"loadAvg"`
	Scheduler threads.Stats          `json:"scheduler"`
	Frames    vm.FrameStats          `json:"frames"`
	Threads   []threads.ThreadInfo   `json:"threads"`
	Processes []userprog.ProcessInfo `json:"processes"`
}

// Boot initialises the logger, tracing, scheduler, swap, frame table, file
// store, loader and process manager, in that order. Console output of user
// programs goes to console.
func Boot(ctx context.Context, cfg Config, console *userprog.Console) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	utils.InicializarLogger(cfg.LogLevel, "kernel")

	k := &Kernel{id: idgen.New(), cfg: cfg, ctx: ctx, fs: afs.New()}
	utils.InfoLog.Info("Booting kernel", "id", k.id, "version", Version, "mlfqs", cfg.MLFQS, "frames", cfg.UserFrames)

	if cfg.Tracing {
		if err := tracing.Init("nucleo", Version, cfg.TraceFile); err != nil {
			return nil, fmt.Errorf("starting tracing: %w", err)
		}
	}

	k.sched = threads.NewScheduler(threads.Config{
		MLFQS:         cfg.MLFQS,
		Aging:         cfg.Aging,
		AgingInterval: cfg.AgingInterval,
		TimeSlice:     cfg.TimeSlice,
		TimerFreq:     cfg.TimerFreq,
		MaxThreads:    cfg.MaxThreads,
	})

	dev, err := k.swapDevice()
	if err != nil {
		return nil, err
	}
	k.swap = vm.NewSwapTable(dev, cfg.SwapSlots)
	k.frames = vm.NewFrameTable(k.sched, vm.Config{
		Frames:     cfg.UserFrames,
		StackLimit: uintptr(cfg.StackLimit),
		StackSlack: uintptr(cfg.StackSlack),
	}, k.swap)

	fsURL := cfg.FilesystemURL
	if fsURL == "" {
		fsURL = "mem://localhost/nucleo/" + k.id + "/fs"
	}
	if k.files, err = filesys.New(ctx, k.fs, fsURL); err != nil {
		_ = k.frames.Close()
		return nil, fmt.Errorf("mounting %s: %w", fsURL, err)
	}

	k.loader = loader.New(k.files, k.frames)
	k.procs = userprog.NewManager(k.sched, k.loader, k.files, console, userprog.Config{
		MaxOpenFiles: cfg.MaxOpenFiles,
		MaxChildren:  cfg.MaxChildren,
	})
	k.procs.OnHalt(k.powerOff)

	utils.InfoLog.Info("Kernel booted", "id", k.id, "filesystem", fsURL, "swap", cfg.SwapType)
	return k, nil
}

func (k *Kernel) swapDevice() (vm.Device, error) {
	switch k.cfg.SwapType {
	case SwapObject:
		base := k.cfg.SwapPath
		if base == "" {
			base = "mem://localhost/nucleo/" + k.id + "/swap"
		}
		return vm.NewObjectDevice(k.ctx, k.fs, base)
	default:
		path := k.cfg.SwapPath
		if path == "" {
			path = filepath.Join(os.TempDir(), "nucleo-"+k.id+".swap")
		}
		return vm.NewFileDevice(path, k.cfg.SwapDelay)
	}
}

func (k *Kernel) powerOff() {
	k.halted.Store(true)
	utils.InfoLog.Info("Powering off", "id", k.id, "ticks", k.sched.Ticks())
}

// Register installs a user program.
func (k *Kernel) Register(name string, image []byte, entry userprog.Program) error {
	return k.procs.Register(name, image, entry)
}

// Run starts cmdline as a child of the main thread and returns its exit
// status once it terminates.
func (k *Kernel) Run(cmdline string) (int, error) {
	utils.InfoLog.Info("Running initial program", "cmdline", cmdline)
	tid, err := k.procs.Spawn(cmdline)
	if err != nil {
		return userprog.ExitKilled, err
	}
	status, err := k.procs.Wait(tid)
	if err != nil {
		return userprog.ExitKilled, err
	}
	utils.InfoLog.Info("Initial program finished", "tid", tid, "status", status, "halted", k.Halted())
	return status, nil
}

// Dump writes the resident memory of thread tid under DUMP_PATH.
func (k *Kernel) Dump(tid threads.ID) (string, error) {
	base := k.cfg.DumpPath
	if base == "" {
		base = "mem://localhost/nucleo/" + k.id + "/dump"
	}
	return k.frames.Dump(k.ctx, k.fs, base, tid)
}

// Status can be called from any goroutine.
func (k *Kernel) Status() Status {
	return Status{
		ID:        k.id,
		Version:   Version,
		Ticks:     k.sched.Ticks(),
		Halted:    k.Halted(),
		LoadAvg:   k.sched.LoadAvg(),
		Scheduler: k.sched.Stats(),
		Frames:    k.frames.Stats(),
		Threads:   k.sched.Snapshot(),
		Processes: k.procs.Processes(),
	}
}

func (k *Kernel) ID() string                    { return k.id }
func (k *Kernel) Config() Config                { return k.cfg }
func (k *Kernel) Scheduler() *threads.Scheduler { return k.sched }
func (k *Kernel) Frames() *vm.FrameTable        { return k.frames }
func (k *Kernel) Files() *filesys.Service       { return k.files }
func (k *Kernel) Processes() *userprog.Manager  { return k.procs }

// Halted reports whether a program invoked the halt system call.
func (k *Kernel) Halted() bool { return k.halted.Load() }

// Shutdown tears the kernel down in the reverse order of Boot: it flushes open
// files, releases the swap device, stops the scheduler and flushes traces. It
// must be called by the running thread and is safe to call more than once.
func (k *Kernel) Shutdown(ctx context.Context) error {
	var err error
	k.shutdown.Do(func() {
		err = errors.Join(k.files.Sync(), k.frames.Close())
		k.sched.Stop()
		err = errors.Join(err, tracing.Shutdown(ctx))
		utils.InfoLog.Info("Kernel shut down", "id", k.id, "ticks", k.sched.Ticks())
	})
	return err
}
