package userprog

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/LosCuervosXeneizes/nucleo/filesys"
	"github.com/LosCuervosXeneizes/nucleo/loader"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/LosCuervosXeneizes/nucleo/vm"
)

// System call numbers.
const (
	SysHalt     = 0
	SysExit     = 1
	SysExec     = 2
	SysWait     = 3
	SysCreate   = 4
	SysRemove   = 5
	SysOpen     = 6
	SysFilesize = 7
	SysRead     = 8
	SysWrite    = 9
	SysSeek     = 10
	SysTell     = 11
	SysClose    = 12
	SysFib      = 20
	SysSumFour  = 21
)

const (
	fdStdin  = 0
	fdStdout = 1
	// maxPath bounds a file name read from user memory.
	maxPath = vm.PageSize
)

var errBadSyscall = errors.New("bad system call")

type syscallFunc func(m *Manager, p *Process, args []uint32) (int32, error)

type syscallDef struct {
	name  string
	nargs int
	fn    syscallFunc
}

var syscalls = map[int]syscallDef{
	SysHalt:     {"halt", 0, sysHalt},
	SysExit:     {"exit", 1, sysExit},
	SysExec:     {"exec", 1, sysExec},
	SysWait:     {"wait", 1, sysWait},
	SysCreate:   {"create", 2, sysCreate},
	SysRemove:   {"remove", 1, sysRemove},
	SysOpen:     {"open", 1, sysOpen},
	SysFilesize: {"filesize", 1, sysFilesize},
	SysRead:     {"read", 3, sysRead},
	SysWrite:    {"write", 3, sysWrite},
	SysSeek:     {"seek", 2, sysSeek},
	SysTell:     {"tell", 1, sysTell},
	SysClose:    {"close", 1, sysClose},
	SysFib:      {"fib", 1, sysFib},
	SysSumFour:  {"sumFour", 4, sysSumFour},
}

// Syscall executes system call nr for the running process. A malformed call
// or an invalid user pointer terminates the process with ExitKilled.
func (m *Manager) Syscall(nr int, args ...uint32) int32 {
	p := m.current()
	if p.prog == nil {
		msg := fmt.Sprintf("kernel PANIC: system call %d from kernel thread %d", nr, p.tid)
		utils.ErrorLog.Error(msg)
		panic(msg)
	}
	def, ok := syscalls[nr]
	if !ok {
		m.kill(p, fmt.Errorf("number %d: %w", nr, errBadSyscall))
	}
	if len(args) < def.nargs {
		m.kill(p, fmt.Errorf("%s with %d arguments: %w", def.name, len(args), errBadSyscall))
	}
	utils.InfoLog.Debug(fmt.Sprintf("## (%d) - Solicitó syscall: %s", p.tid, def.name))
	ret, err := def.fn(m, p, args[:def.nargs])
	if err != nil {
		m.kill(p, fmt.Errorf("%s: %w", def.name, err))
	}
	return ret
}

func (m *Manager) kill(p *Process, reason error) {
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Proceso abortado: %v", p.tid, reason))
	m.exit(p, ExitKilled, true)
}

func sysHalt(m *Manager, p *Process, _ []uint32) (int32, error) {
	m.halt(p)
	return 0, nil
}

func sysExit(m *Manager, p *Process, args []uint32) (int32, error) {
	m.exit(p, int(int32(args[0])), true)
	return 0, nil
}

func sysExec(m *Manager, p *Process, args []uint32) (int32, error) {
	cmdline, err := readString(p, args[0], loader.MaxCommandLine+1)
	if err != nil {
		return 0, err
	}
	tid, err := m.Spawn(cmdline)
	if err != nil {
		return int32(threads.IDError), nil
	}
	return int32(tid), nil
}

func sysWait(m *Manager, _ *Process, args []uint32) (int32, error) {
	status, err := m.Wait(threads.ID(int32(args[0])))
	if err != nil {
		return ExitKilled, nil
	}
	return int32(status), nil
}

func sysCreate(m *Manager, p *Process, args []uint32) (int32, error) {
	name, err := readString(p, args[0], maxPath)
	if err != nil {
		return 0, err
	}
	m.fsLock.Acquire()
	err = m.fs.Create(name, int64(args[1]))
	m.fsLock.Release()
	return boolWord(err == nil), nil
}

func sysRemove(m *Manager, p *Process, args []uint32) (int32, error) {
	name, err := readString(p, args[0], maxPath)
	if err != nil {
		return 0, err
	}
	m.fsLock.Acquire()
	err = m.fs.Remove(name)
	m.fsLock.Release()
	return boolWord(err == nil), nil
}

func sysOpen(m *Manager, p *Process, args []uint32) (int32, error) {
	name, err := readString(p, args[0], maxPath)
	if err != nil {
		return 0, err
	}
	m.fsLock.Acquire()
	f, err := m.fs.Open(name)
	m.fsLock.Release()
	if err != nil {
		return -1, nil
	}
	fd, err := m.install(p, f)
	if err != nil {
		m.fsLock.Acquire()
		_ = f.Close()
		m.fsLock.Release()
		utils.InfoLog.Debug(fmt.Sprintf("## (%d) - Open %s: %v", p.tid, name, err))
		return -1, nil
	}
	return int32(fd), nil
}

func sysFilesize(m *Manager, p *Process, args []uint32) (int32, error) {
	f, err := m.descriptor(p, args[0])
	if err != nil {
		return 0, err
	}
	m.fsLock.Acquire()
	n := f.Length()
	m.fsLock.Release()
	return int32(n), nil
}

// sysRead and sysWrite move data a page at a time through one kernel
// buffer, so the size a process asks for never sizes a kernel allocation.
func sysRead(m *Manager, p *Process, args []uint32) (int32, error) {
	fd, addr, size := args[0], args[1], int(args[2])
	if err := checkBuffer(addr, size); err != nil {
		return 0, err
	}
	var f *filesys.File
	switch fd {
	case fdStdin:
	case fdStdout:
		return -1, nil
	default:
		var err error
		if f, err = m.descriptor(p, fd); err != nil {
			return -1, nil
		}
	}

	buf := make([]byte, vm.PageSize)
	done := 0
	for done < size {
		chunk := buf[:min(size-done, vm.PageSize)]
		var last bool
		if f == nil {
			var line []byte
			line, last = m.console.ReadLine(len(chunk))
			chunk = chunk[:copy(chunk, line)]
		} else {
			m.fsLock.Acquire()
			n, _ := f.Read(chunk)
			m.fsLock.Release()
			last = n < len(chunk)
			chunk = chunk[:n]
		}
		if err := p.prog.Space.Write(uintptr(addr)+uintptr(done), chunk); err != nil {
			return 0, err
		}
		done += len(chunk)
		if last {
			break
		}
	}
	return int32(done), nil
}

func sysWrite(m *Manager, p *Process, args []uint32) (int32, error) {
	fd, addr, size := args[0], args[1], int(args[2])
	if err := checkBuffer(addr, size); err != nil {
		return 0, err
	}
	var f *filesys.File
	switch fd {
	case fdStdout:
	case fdStdin:
		return -1, nil
	default:
		var err error
		if f, err = m.descriptor(p, fd); err != nil {
			return -1, nil
		}
	}

	buf := make([]byte, vm.PageSize)
	done := 0
	for done < size {
		chunk := buf[:min(size-done, vm.PageSize)]
		if err := p.prog.Space.Read(uintptr(addr)+uintptr(done), chunk); err != nil {
			return 0, err
		}
		n := len(chunk)
		if f == nil {
			_, _ = m.console.Write(chunk)
		} else {
			m.fsLock.Acquire()
			n, _ = f.Write(chunk)
			m.fsLock.Release()
		}
		done += n
		if n < len(chunk) {
			break
		}
	}
	return int32(done), nil
}

func sysSeek(m *Manager, p *Process, args []uint32) (int32, error) {
	f, err := m.descriptor(p, args[0])
	if err != nil {
		return 0, nil
	}
	m.fsLock.Acquire()
	f.Seek(int64(args[1]))
	m.fsLock.Release()
	return 0, nil
}

func sysTell(m *Manager, p *Process, args []uint32) (int32, error) {
	f, err := m.descriptor(p, args[0])
	if err != nil {
		return -1, nil
	}
	m.fsLock.Acquire()
	pos := f.Tell()
	m.fsLock.Release()
	return int32(pos), nil
}

func sysClose(m *Manager, p *Process, args []uint32) (int32, error) {
	fd := int(int32(args[0]))
	m.mu.Lock()
	f, ok := p.fds[fd]
	delete(p.fds, fd)
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("fd %d: %w", fd, ErrBadDescriptor)
	}
	m.fsLock.Acquire()
	err := f.Close()
	m.fsLock.Release()
	if err != nil {
		utils.ErrorLog.Error("Error cerrando descriptor", "tid", p.tid, "fd", fd, "error", err)
	}
	return 0, nil
}

func sysFib(_ *Manager, _ *Process, args []uint32) (int32, error) {
	return Fib(int32(args[0])), nil
}

func sysSumFour(_ *Manager, _ *Process, args []uint32) (int32, error) {
	return SumFour(int32(args[0]), int32(args[1]), int32(args[2]), int32(args[3])), nil
}

// Fib returns the n-th Fibonacci number, 0 for n <= 0.
func Fib(n int32) int32 {
	var a, b int32 = 0, 1
	for ; n > 0; n-- {
		a, b = b, a+b
	}
	return a
}

func SumFour(a, b, c, d int32) int32 {
	return a + b + c + d
}

// install hands out the next descriptor for f. Descriptors are not reused.
func (m *Manager) install(p *Process, f *filesys.File) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(p.fds) >= m.cfg.MaxOpenFiles {
		return -1, ErrDescriptorTableFull
	}
	fd := p.nextFD
	p.nextFD++
	p.fds[fd] = f
	return fd, nil
}

func (m *Manager) descriptor(p *Process, word uint32) (*filesys.File, error) {
	fd := int(int32(word))
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := p.fds[fd]
	if !ok {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadDescriptor)
	}
	return f, nil
}

// readString copies a NUL-terminated string of at most max bytes out of
// user memory.
func readString(p *Process, addr uint32, max int) (string, error) {
	var out []byte
	va := uintptr(addr)
	for len(out) < max {
		chunk := vm.PageSize - int(vm.PageOffset(va))
		if rest := max - len(out); rest < chunk {
			chunk = rest
		}
		buf := make([]byte, chunk)
		if err := p.prog.Space.Read(va, buf); err != nil {
			return "", err
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return string(append(out, buf[:i]...)), nil
		}
		out = append(out, buf...)
		va += uintptr(chunk)
	}
	return "", fmt.Errorf("string at %#x longer than %d bytes: %w", addr, max, vm.ErrInvalidAccess)
}

// checkBuffer rejects buffers that reach kernel memory before any byte is
// transferred.
func checkBuffer(addr uint32, size int) error {
	if size < 0 {
		return fmt.Errorf("buffer size %d: %w", size, vm.ErrInvalidAccess)
	}
	if !vm.IsUserAddr(uintptr(addr)) || (size > 0 && !vm.IsUserAddr(uintptr(addr)+uintptr(size)-1)) {
		return fmt.Errorf("buffer %#x+%d: %w", addr, size, vm.ErrInvalidAccess)
	}
	return nil
}

func boolWord(ok bool) int32 {
	if ok {
		return 1
	}
	return 0
}

func sortDescending(fds []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(fds)))
}
