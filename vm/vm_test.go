package vm

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/LosCuervosXeneizes/nucleo/internal/idgen"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

const codeBase uintptr = 0x08048000

func newTestFrameTable(t *testing.T, frames, slots int) (*threads.Scheduler, *FrameTable) {
	t.Helper()
	sched := threads.NewScheduler(threads.DefaultConfig())
	dev, err := NewFileDevice(filepath.Join(t.TempDir(), "swap.bin"), 0)
	require.NoError(t, err)
	ft := NewFrameTable(sched, Config{Frames: frames}, NewSwapTable(dev, slots))
	t.Cleanup(func() { _ = ft.Close() })
	return sched, ft
}

func TestFrameTable_EvictionRoundTrip(t *testing.T) {
	sched, ft := newTestFrameTable(t, 2, 16)
	as := ft.NewAddressSpace(sched.CurrentID())
	for i := uintptr(0); i < 4; i++ {
		require.NoError(t, as.AddZeroPage(codeBase+i*PageSize, true))
	}

	pattern := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, PageSize/4)
	require.NoError(t, as.Write(codeBase, pattern))
	for i := uintptr(1); i < 4; i++ {
		require.NoError(t, as.Write(codeBase+i*PageSize, []byte{byte(i)}))
	}
	assert.Equal(t, 2, ft.Used())

	got := make([]byte, PageSize)
	require.NoError(t, as.Read(codeBase, got))
	assert.Equal(t, pattern, got)

	for i := uintptr(1); i < 4; i++ {
		b := make([]byte, 1)
		require.NoError(t, as.Read(codeBase+i*PageSize, b))
		assert.Equal(t, byte(i), b[0])
	}

	stats := ft.Stats()
	assert.Equal(t, 2, stats.Used)
	assert.GreaterOrEqual(t, stats.Evictions, int64(4))
	assert.Equal(t, stats.Evictions, stats.SwapOuts)

	spaceStats := as.Stats()
	assert.Equal(t, int64(4), spaceStats.ZeroFills)
	assert.GreaterOrEqual(t, spaceStats.SwapIns, int64(3))
}

func TestFrameTable_CleanFilePagesAreDiscarded(t *testing.T) {
	sched, ft := newTestFrameTable(t, 1, 4)
	as := ft.NewAddressSpace(sched.CurrentID())

	image := bytes.Repeat([]byte("segment!"), 40)
	require.NoError(t, as.AddFilePage(codeBase, bytes.NewReader(image), 0, 100, false))
	require.NoError(t, as.AddZeroPage(codeBase+PageSize, true))

	got := make([]byte, PageSize)
	require.NoError(t, as.Read(codeBase, got))
	assert.Equal(t, image[:100], got[:100])
	assert.Equal(t, make([]byte, PageSize-100), got[100:])

	zero := make([]byte, 8)
	require.NoError(t, as.Read(codeBase+PageSize, zero))
	require.NoError(t, as.Read(codeBase, got[:100]))
	assert.Equal(t, image[:100], got[:100])

	stats := ft.Stats()
	assert.Equal(t, int64(2), stats.Evictions)
	assert.Equal(t, int64(2), stats.Discards)
	assert.Equal(t, int64(0), stats.SwapOuts)
	assert.Equal(t, int64(2), as.Stats().FileReads)

	err := as.Write(codeBase, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidAccess)
}

func TestAddressSpace_StackGrowth(t *testing.T) {
	sched, ft := newTestFrameTable(t, 4, 4)
	as := ft.NewAddressSpace(sched.CurrentID())
	esp := PhysBase - PageSize
	as.SetStackPointer(esp)

	var testCases = []struct {
		description string
		addr        uintptr
		expectErr   bool
	}{
		{description: "push below stack pointer", addr: esp - 4, expectErr: false},
		{description: "pusha distance", addr: esp - 32, expectErr: false},
		{description: "beyond slack", addr: esp - 33 - PageSize, expectErr: true},
		{description: "kernel address", addr: PhysBase + 16, expectErr: true},
		{description: "null page", addr: 0, expectErr: true},
	}

	for _, testCase := range testCases {
		err := as.Write(testCase.addr, []byte{1, 2, 3, 4})
		if testCase.expectErr {
			assert.ErrorIs(t, err, ErrInvalidAccess, testCase.description)
			continue
		}
		assert.NoError(t, err, testCase.description)
	}

	got := make([]byte, 4)
	require.NoError(t, as.Read(esp-32, got))
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Equal(t, int64(1), as.Stats().StackGrowths)

	as.SetStackPointer(PhysBase - DefaultStackLimit)
	err := as.Write(PhysBase-DefaultStackLimit-8, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidAccess)
}

func TestAddressSpace_DestroyReleasesEverything(t *testing.T) {
	sched, ft := newTestFrameTable(t, 2, 8)
	before := ft.Used()
	as := ft.NewAddressSpace(sched.CurrentID())
	for i := uintptr(0); i < 4; i++ {
		require.NoError(t, as.AddZeroPage(codeBase+i*PageSize, true))
		require.NoError(t, as.Write(codeBase+i*PageSize, []byte{0xFF}))
	}
	assert.Equal(t, 2, ft.Used())
	assert.Equal(t, 2, ft.Stats().SwapUsed)

	as.Destroy()
	assert.Equal(t, before, ft.Used())
	assert.Equal(t, 0, ft.Stats().SwapUsed)
	for _, info := range ft.Snapshot() {
		assert.False(t, info.Used)
	}
}

func TestAddressSpace_DuplicateAndMisalignedPages(t *testing.T) {
	sched, ft := newTestFrameTable(t, 1, 1)
	as := ft.NewAddressSpace(sched.CurrentID())
	require.NoError(t, as.AddZeroPage(codeBase, true))
	assert.ErrorIs(t, as.AddZeroPage(codeBase, false), ErrDuplicatePage)
	assert.ErrorIs(t, as.AddZeroPage(codeBase+1, false), ErrInvalidAccess)
	assert.Error(t, as.AddFilePage(codeBase+PageSize, bytes.NewReader(nil), 0, PageSize+1, false))
	assert.Equal(t, 1, as.Pages())
}

func TestFrameTable_Exhaustion(t *testing.T) {
	sched, ft := newTestFrameTable(t, 1, 1)
	owner := sched.CurrentID()

	idx, err := ft.Allocate(owner, codeBase)
	require.NoError(t, err)
	_, err = ft.Allocate(owner, codeBase+PageSize)
	assert.ErrorIs(t, err, ErrNoEvictableFrame)
	ft.Free(idx)
	assert.Equal(t, 0, ft.Used())

	as := ft.NewAddressSpace(owner)
	for i := uintptr(0); i < 3; i++ {
		require.NoError(t, as.AddZeroPage(codeBase+i*PageSize, true))
	}
	require.NoError(t, as.Write(codeBase, []byte{1}))
	require.NoError(t, as.Write(codeBase+PageSize, []byte{2}))
	err = as.Write(codeBase+2*PageSize, []byte{3})
	assert.ErrorIs(t, err, ErrSwapFull)

	got := make([]byte, 1)
	require.NoError(t, as.Read(codeBase+PageSize, got))
	assert.Equal(t, byte(2), got[0])
}

func TestObjectDevice(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	base := "mem://localhost/" + idgen.New() + "/swap"
	dev, err := NewObjectDevice(ctx, fs, base)
	require.NoError(t, err)

	swap := NewSwapTable(dev, 2)
	page := bytes.Repeat([]byte{7}, PageSize)
	slot, err := swap.Store(page)
	require.NoError(t, err)
	assert.Equal(t, 1, swap.Used())

	got := make([]byte, PageSize)
	require.NoError(t, swap.Load(slot, got))
	assert.Equal(t, page, got)

	swap.Free(slot)
	swap.Free(slot)
	assert.Equal(t, 0, swap.Used())
	assert.Error(t, swap.Load(slot, got))
	require.NoError(t, swap.Close())
}

func TestFrameTable_Dump(t *testing.T) {
	sched, ft := newTestFrameTable(t, 2, 2)
	as := ft.NewAddressSpace(sched.CurrentID())
	require.NoError(t, as.AddZeroPage(codeBase, true))
	require.NoError(t, as.Write(codeBase, []byte("dump me")))

	ctx := context.Background()
	fs := afs.New()
	base := "mem://localhost/" + idgen.New() + "/dump"
	dumpURL, err := ft.Dump(ctx, fs, base, sched.CurrentID())
	require.NoError(t, err)

	content, err := fs.DownloadWithURL(ctx, dumpURL)
	require.NoError(t, err)
	assert.Contains(t, string(content), "page 0x8048000 frame")
	assert.Contains(t, string(content), "dump me")

	_, err = ft.Dump(ctx, fs, base, sched.CurrentID()+100)
	assert.Error(t, err)
}
