package userprog

import (
	"encoding/binary"
	"fmt"

	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/vm"
)

// UserContext is the machine state a user program sees: its stack pointer,
// memory reached through the MMU and the system call instruction. Any fault
// the kernel cannot resolve kills the process with ExitKilled.
type UserContext struct {
	m *Manager
	p *Process
}

func (u *UserContext) TID() threads.ID { return u.p.tid }

func (u *UserContext) Name() string { return u.p.name }

// Args reads argc and argv back from the initial stack frame, as a C
// runtime's start routine would.
func (u *UserContext) Args() []string {
	frame := u.p.entrySP
	argc := u.LoadWord(frame + 4)
	argv := u.LoadWord(frame + 8)
	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		s, err := readString(u.p, u.LoadWord(argv+4*i), vm.PageSize)
		if err != nil {
			u.m.kill(u.p, err)
		}
		args = append(args, s)
	}
	return args
}

func (u *UserContext) StackPointer() uint32 {
	return uint32(u.p.prog.Space.StackPointer())
}

// Push moves the stack pointer down n bytes and returns it. No memory is
// touched.
func (u *UserContext) Push(n int) uint32 {
	space := u.p.prog.Space
	space.SetStackPointer(space.StackPointer() - uintptr(n))
	return u.StackPointer()
}

// Pop moves the stack pointer up n bytes and returns it.
func (u *UserContext) Pop(n int) uint32 {
	space := u.p.prog.Space
	space.SetStackPointer(space.StackPointer() + uintptr(n))
	return u.StackPointer()
}

// PushBytes copies data onto the stack, word aligned, and returns its
// address.
func (u *UserContext) PushBytes(data []byte) uint32 {
	size := (len(data) + 3) &^ 3
	addr := u.Push(size)
	u.Store(addr, data)
	return addr
}

// PushString pushes s with its NUL terminator and returns its address.
func (u *UserContext) PushString(s string) uint32 {
	return u.PushBytes(append([]byte(s), 0))
}

func (u *UserContext) Load(addr uint32, n int) []byte {
	buf := make([]byte, n)
	if err := u.p.prog.Space.Read(uintptr(addr), buf); err != nil {
		u.m.kill(u.p, fmt.Errorf("load at %#x: %w", addr, err))
	}
	return buf
}

func (u *UserContext) Store(addr uint32, data []byte) {
	if err := u.p.prog.Space.Write(uintptr(addr), data); err != nil {
		u.m.kill(u.p, fmt.Errorf("store at %#x: %w", addr, err))
	}
}

func (u *UserContext) LoadWord(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(u.Load(addr, 4))
}

func (u *UserContext) StoreWord(addr, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	u.Store(addr, buf[:])
}

// Compute burns ticks timer ticks of CPU time.
func (u *UserContext) Compute(ticks int) {
	for i := 0; i < ticks; i++ {
		u.m.sched.Tick()
	}
}

func (u *UserContext) Syscall(nr int, args ...uint32) int32 {
	return u.m.Syscall(nr, args...)
}

// Exit is the exit system call.
func (u *UserContext) Exit(status int) {
	u.m.Syscall(SysExit, uint32(int32(status)))
}
