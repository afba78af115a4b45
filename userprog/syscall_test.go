package userprog

import (
	"runtime"
	"testing"

	"github.com/LosCuervosXeneizes/nucleo/vm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFib(t *testing.T) {
	want := []int32{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55}
	for n, w := range want {
		assert.Equal(t, w, Fib(int32(n)), "fib(%d)", n)
	}
	assert.Equal(t, int32(0), Fib(-3))
	assert.Equal(t, int32(10), SumFour(1, 2, 3, 4))
	assert.Equal(t, int32(-2), SumFour(1, -2, 3, -4))
}

func TestSyscall_FileOperations(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "")
	results := map[string]int32{}
	var readBack string
	fx.register(t, "files", func(u *UserContext) int {
		name := u.PushString("data")
		results["create"] = u.Syscall(SysCreate, name, 16)
		results["createAgain"] = u.Syscall(SysCreate, name, 16)
		fd := u.Syscall(SysOpen, name)
		results["fd"] = fd
		results["second"] = u.Syscall(SysOpen, name)
		results["missing"] = u.Syscall(SysOpen, u.PushString("nothing"))

		hello := u.PushString("hello")
		results["write"] = u.Syscall(SysWrite, uint32(fd), hello, 5)
		results["tell"] = u.Syscall(SysTell, uint32(fd))
		u.Syscall(SysSeek, uint32(fd), 0)
		buf := u.Push(8)
		results["read"] = u.Syscall(SysRead, uint32(fd), buf, 5)
		readBack = string(u.Load(buf, 5))
		results["size"] = u.Syscall(SysFilesize, uint32(fd))

		u.Syscall(SysSeek, uint32(fd), 100)
		results["writePastEnd"] = u.Syscall(SysWrite, uint32(fd), hello, 5)

		results["remove"] = u.Syscall(SysRemove, name)
		u.Syscall(SysSeek, uint32(fd), 0)
		results["readRemoved"] = u.Syscall(SysRead, uint32(fd), buf, 5)
		u.Syscall(SysClose, uint32(fd))
		results["reopen"] = u.Syscall(SysOpen, name)

		results["badRead"] = u.Syscall(SysRead, 42, buf, 1)
		results["badWrite"] = u.Syscall(SysWrite, 42, hello, 1)
		results["badTell"] = u.Syscall(SysTell, 42)
		u.Syscall(SysSeek, 42, 0)
		results["readStdout"] = u.Syscall(SysRead, 1, buf, 1)
		results["writeStdin"] = u.Syscall(SysWrite, 0, hello, 1)
		return 0
	})

	tid, err := fx.manager.Spawn("files")
	require.NoError(t, err)
	status, err := fx.manager.Wait(tid)
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	assert.Equal(t, map[string]int32{
		"create":       1,
		"createAgain":  0,
		"fd":           2,
		"second":       3,
		"missing":      -1,
		"write":        5,
		"tell":         5,
		"read":         5,
		"size":         16,
		"writePastEnd": 0,
		"remove":       1,
		"readRemoved":  5,
		"reopen":       -1,
		"badRead":      -1,
		"badWrite":     -1,
		"badTell":      -1,
		"readStdout":   -1,
		"writeStdin":   -1,
	}, results)
	assert.Equal(t, "hello", readBack)
	assert.Equal(t, 0, fx.fs.OpenCount("data"))
}

func TestSyscall_Console(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "line one\nrest")
	var first, second string
	var n1, n2 int32
	fx.register(t, "console", func(u *UserContext) int {
		buf := u.Push(64)
		n1 = u.Syscall(SysRead, 0, buf, 64)
		first = string(u.Load(buf, int(n1)))
		n2 = u.Syscall(SysRead, 0, buf, 2)
		second = string(u.Load(buf, int(n2)))
		msg := u.PushString("hi there\n")
		u.Syscall(SysWrite, 1, msg, 9)
		return 0
	})

	tid, err := fx.manager.Spawn("console")
	require.NoError(t, err)
	_, err = fx.manager.Wait(tid)
	require.NoError(t, err)

	assert.Equal(t, int32(8), n1)
	assert.Equal(t, "line one", first)
	assert.Equal(t, int32(2), n2)
	assert.Equal(t, "re", second)
	assert.Equal(t, "hi there\nconsole: exit(0)\n", fx.out.String())
}

func TestSyscall_DescriptorLimit(t *testing.T) {
	fx := newFixture(t, Config{MaxOpenFiles: 2}, "")
	require.NoError(t, fx.fs.Create("data", 4))
	var fds []int32
	fx.register(t, "opener", func(u *UserContext) int {
		name := u.PushString("data")
		for i := 0; i < 3; i++ {
			fds = append(fds, u.Syscall(SysOpen, name))
		}
		u.Syscall(SysClose, uint32(fds[0]))
		fds = append(fds, u.Syscall(SysOpen, name))
		return 0
	})

	tid, err := fx.manager.Spawn("opener")
	require.NoError(t, err)
	_, err = fx.manager.Wait(tid)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, -1, 4}, fds)
	assert.Equal(t, 0, fx.fs.OpenCount("data"))
}

func TestSyscall_ExecAndWait(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "")
	fx.register(t, "seven", returns(7))
	var missing, again int32
	fx.register(t, "parent", func(u *UserContext) int {
		child := u.Syscall(SysExec, u.PushString("seven"))
		status := u.Syscall(SysWait, uint32(child))
		again = u.Syscall(SysWait, uint32(child))
		missing = u.Syscall(SysExec, u.PushString("nothing"))
		return int(status) + 1
	})

	tid, err := fx.manager.Spawn("parent")
	require.NoError(t, err)
	status, err := fx.manager.Wait(tid)
	require.NoError(t, err)
	assert.Equal(t, 8, status)
	assert.Equal(t, int32(-1), again)
	assert.Equal(t, int32(-1), missing)
}

func TestSyscall_SumProgram(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "")
	fx.register(t, "sum", func(u *UserContext) int {
		fib := u.Syscall(SysFib, 10)
		sum := u.Syscall(SysSumFour, 10, 20, 30, 40)
		return int(fib + sum)
	})
	tid, err := fx.manager.Spawn("sum 10 20 30 40")
	require.NoError(t, err)
	status, err := fx.manager.Wait(tid)
	require.NoError(t, err)
	assert.Equal(t, 55+100, status)
}

func TestSyscall_Kills(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "")
	programs := map[string]Program{
		"unknown":   func(u *UserContext) int { u.Syscall(99); return 0 },
		"shortargs": func(u *UserContext) int { u.Syscall(SysWrite, 1); return 0 },
		"closebad":  func(u *UserContext) int { u.Syscall(SysClose, 7); return 0 },
		"closeout":  func(u *UserContext) int { u.Syscall(SysClose, 1); return 0 },
		"sizebad":   func(u *UserContext) int { u.Syscall(SysFilesize, 9); return 0 },
		"kernelbuf": func(u *UserContext) int { u.Syscall(SysWrite, 1, 0xC0000000, 4); return 0 },
		"nullname":  func(u *UserContext) int { u.Syscall(SysOpen, 0); return 0 },
		"codestore": func(u *UserContext) int { u.Store(codeBase, []byte{1}); return 0 },
		"nullload":  func(u *UserContext) int { u.Load(0, 1); return 0 },
		"wildload":  func(u *UserContext) int { u.Load(0x10000000, 1); return 0 },
		"exitneg":   func(u *UserContext) int { u.Exit(-5); return 0 },
	}
	want := map[string]int{"exitneg": -5}
	for name, prog := range programs {
		fx.register(t, name, prog)
	}
	before := fx.frames.Used()

	for name := range programs {
		tid, err := fx.manager.Spawn(name)
		require.NoError(t, err, name)
		status, err := fx.manager.Wait(tid)
		require.NoError(t, err, name)

		expected, ok := want[name]
		if !ok {
			expected = ExitKilled
		}
		assert.Equal(t, expected, status, name)
		assert.Contains(t, fx.out.String(), name+": exit(", name)
	}
	fx.settle()
	assert.Equal(t, before, fx.frames.Used())
	assert.Len(t, fx.manager.Processes(), 1)
}

func TestSyscall_HugeBufferOnUnmappedMemory(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), "typed input\n")
	require.NoError(t, fx.fs.Create("big", 2*vm.PageSize))
	const unmapped, huge = 0x10000000, 0x40000000
	programs := map[string]Program{
		"bigwrite": func(u *UserContext) int { u.Syscall(SysWrite, 1, unmapped, huge); return 0 },
		"bigstdin": func(u *UserContext) int { u.Syscall(SysRead, 0, unmapped, huge); return 0 },
		"bigread": func(u *UserContext) int {
			fd := u.Syscall(SysOpen, u.PushString("big"))
			u.Syscall(SysRead, uint32(fd), unmapped, huge)
			return 0
		},
	}
	for name, prog := range programs {
		fx.register(t, name, prog)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for name := range programs {
		tid, err := fx.manager.Spawn(name)
		require.NoError(t, err, name)
		status, err := fx.manager.Wait(tid)
		require.NoError(t, err, name)
		assert.Equal(t, ExitKilled, status, name)
	}
	runtime.ReadMemStats(&after)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
	assert.Equal(t, 0, fx.fs.OpenCount("big"))
}
