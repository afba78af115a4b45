package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/tracing"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// Config sizes physical memory and the user stack.
type Config struct {
	Frames     int
	StackLimit uintptr
	StackSlack uintptr
}

type frame struct {
	used   bool
	pinned bool
	owner  threads.ID
	upage  uintptr
}

// FrameInfo describes one frame for status reports.
type FrameInfo struct {
	Frame  int        `json:"frame"`
	Used   bool       `json:"used"`
	Pinned bool       `json:"pinned"`
	Owner  threads.ID `json:"owner,omitempty"`
	Page   string     `json:"page,omitempty"`
}

// FrameStats are global paging counters.
type FrameStats struct {
	Frames      int   `json:"frames"`
	Used        int   `json:"used"`
	Allocations int64 `json:"allocations"`
	Evictions   int64 `json:"evictions"`
	SwapOuts    int64 `json:"swapOuts"`
	Discards    int64 `json:"discards"`
	SwapUsed    int   `json:"swapUsed"`
	SwapSlots   int   `json:"swapSlots"`
}

// FrameTable owns physical memory for user pages. Allocation, eviction and
// page-in are serialised by a kernel lock, so a faulting thread may sleep on
// it. The mutex only guards memory contents and bookkeeping against readers
// running outside kernel threads (status and dump requests).
type FrameTable struct {
	lock *threads.Lock
	mu   sync.Mutex

	cfg    Config
	memory []byte
	frames []frame
	free   []int
	hand   int

	swap   *SwapTable
	spaces map[threads.ID]*AddressSpace
	stats  FrameStats
}

// NewFrameTable creates cfg.Frames frames of zeroed physical memory.
func NewFrameTable(sched *threads.Scheduler, cfg Config, swap *SwapTable) *FrameTable {
	if cfg.StackLimit == 0 {
		cfg.StackLimit = DefaultStackLimit
	}
	if cfg.StackSlack == 0 {
		cfg.StackSlack = DefaultStackSlack
	}
	ft := &FrameTable{
		lock:   sched.NewLock(),
		cfg:    cfg,
		memory: make([]byte, cfg.Frames*PageSize),
		frames: make([]frame, cfg.Frames),
		free:   make([]int, 0, cfg.Frames),
		swap:   swap,
		spaces: make(map[threads.ID]*AddressSpace),
	}
	for i := cfg.Frames - 1; i >= 0; i-- {
		ft.free = append(ft.free, i)
	}
	ft.stats.Frames = cfg.Frames
	utils.InfoLog.Info("Frame table ready", "frames", cfg.Frames, "bytes", len(ft.memory))
	return ft
}

// Allocate returns a frame bound to (owner, upage), evicting a victim when
// physical memory is full. The frame is returned pinned; Unpin makes it
// eligible for eviction again.
func (ft *FrameTable) Allocate(owner threads.ID, upage uintptr) (int, error) {
	ft.lock.Acquire()
	defer ft.lock.Release()
	return ft.allocateLocked(owner, upage)
}

// Free releases a frame without write-back.
func (ft *FrameTable) Free(idx int) {
	ft.lock.Acquire()
	defer ft.lock.Release()
	ft.freeLocked(idx)
}

// Unpin makes a frame eligible for eviction.
func (ft *FrameTable) Unpin(idx int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.frames[idx].pinned = false
}

func (ft *FrameTable) allocateLocked(owner threads.ID, upage uintptr) (int, error) {
	ft.mu.Lock()
	idx := -1
	if n := len(ft.free); n > 0 {
		idx = ft.free[n-1]
		ft.free = ft.free[:n-1]
	}
	ft.mu.Unlock()

	if idx < 0 {
		victim, err := ft.selectVictimLocked()
		if err != nil {
			return -1, err
		}
		if err := ft.evictLocked(victim); err != nil {
			ft.mu.Lock()
			ft.frames[victim].pinned = false
			ft.mu.Unlock()
			return -1, err
		}
		idx = victim
	}

	ft.mu.Lock()
	ft.frames[idx] = frame{used: true, pinned: true, owner: owner, upage: upage}
	ft.stats.Allocations++
	ft.stats.Used++
	ft.mu.Unlock()
	return idx, nil
}

func (ft *FrameTable) freeLocked(idx int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !ft.frames[idx].used {
		utils.ErrorLog.Error("Freeing an unused frame", "frame", idx)
		return
	}
	ft.frames[idx] = frame{}
	ft.free = append(ft.free, idx)
	ft.stats.Used--
}

// selectVictimLocked runs the enhanced second-chance clock. The first sweep
// looks for a frame neither accessed nor dirty, the second for one not
// accessed but dirty while clearing accessed bits, and the pair is repeated
// once so that a frame whose bit was just cleared can be taken. The victim
// is returned pinned.
func (ft *FrameTable) selectVictimLocked() (int, error) {
	n := len(ft.frames)
	for round := 0; round < 2; round++ {
		for pass := 0; pass < 2; pass++ {
			for i := 0; i < n; i++ {
				idx := ft.hand
				ft.hand = (ft.hand + 1) % n

				ft.mu.Lock()
				f := ft.frames[idx]
				ft.mu.Unlock()
				if !f.used || f.pinned {
					continue
				}
				space := ft.space(f.owner)
				if space == nil {
					continue
				}
				pte, ok := space.dir.Lookup(f.upage)
				if !ok {
					continue
				}
				if !pte.Accessed && pte.Dirty == (pass == 1) {
					ft.mu.Lock()
					ft.frames[idx].pinned = true
					ft.mu.Unlock()
					return idx, nil
				}
				if pass == 1 {
					space.dir.SetAccessed(f.upage, false)
				}
			}
		}
	}
	return -1, ErrNoEvictableFrame
}

// evictLocked unmaps the page held by idx and saves its contents when they
// exist nowhere else: dirty pages and pages previously brought back from
// swap go to a swap slot, clean file and zero pages are dropped.
func (ft *FrameTable) evictLocked(idx int) error {
	ft.mu.Lock()
	f := ft.frames[idx]
	ft.mu.Unlock()

	_, span := tracing.StartSpan(context.Background(), "vm.evict", "INTERNAL")
	span.WithAttributes(map[string]string{
		"frame": fmt.Sprint(idx),
		"page":  fmt.Sprintf("%#x", f.upage),
		"owner": fmt.Sprint(f.owner),
	})
	err := ft.writeBackLocked(idx, f)
	tracing.EndSpan(span, err)
	return err
}

func (ft *FrameTable) writeBackLocked(idx int, f frame) error {
	space := ft.space(f.owner)
	pg := space.pages[f.upage]
	pte, _ := space.dir.Unmap(f.upage)

	if pte.Dirty || pg.anonymous {
		data := make([]byte, PageSize)
		ft.copyOut(idx, 0, data)
		slot, err := ft.swap.Store(data)
		if err != nil {
			space.dir.Map(f.upage, idx, pte.Writable)
			if pte.Dirty {
				space.dir.Touch(f.upage, true)
			}
			space.dir.SetAccessed(f.upage, pte.Accessed)
			return fmt.Errorf("evicting page %#x of thread %d: %w", f.upage, f.owner, err)
		}
		pg.source = SourceSwap
		pg.swapSlot = slot
		pg.anonymous = true
		space.stats.SwapOuts++
		ft.mu.Lock()
		ft.stats.SwapOuts++
		ft.mu.Unlock()
		utils.InfoLog.Info(fmt.Sprintf("## TID: %d - Page %#x moved to swap slot %d", f.owner, f.upage, slot))
	} else {
		ft.mu.Lock()
		ft.stats.Discards++
		ft.mu.Unlock()
		utils.InfoLog.Debug(fmt.Sprintf("## TID: %d - Clean page %#x discarded", f.owner, f.upage))
	}

	pg.resident = false
	pg.frame = -1
	space.stats.Evictions++

	ft.mu.Lock()
	ft.stats.Evictions++
	ft.stats.Used--
	ft.frames[idx].used = false
	ft.mu.Unlock()
	return nil
}

func (ft *FrameTable) space(owner threads.ID) *AddressSpace {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.spaces[owner]
}

func (ft *FrameTable) copyOut(idx int, off uintptr, dst []byte) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	base := uintptr(idx)*PageSize + off
	copy(dst, ft.memory[base:base+uintptr(len(dst))])
}

func (ft *FrameTable) copyIn(idx int, off uintptr, src []byte) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	base := uintptr(idx)*PageSize + off
	copy(ft.memory[base:base+uintptr(len(src))], src)
}

// Used returns the number of frames currently holding a page.
func (ft *FrameTable) Used() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stats.Used
}

// Stats returns a copy of the paging counters.
func (ft *FrameTable) Stats() FrameStats {
	ft.mu.Lock()
	stats := ft.stats
	ft.mu.Unlock()
	if ft.swap != nil {
		stats.SwapUsed = ft.swap.Used()
		stats.SwapSlots = ft.swap.Slots()
	}
	return stats
}

// Snapshot describes every frame in order.
func (ft *FrameTable) Snapshot() []FrameInfo {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	result := make([]FrameInfo, len(ft.frames))
	for i, f := range ft.frames {
		result[i] = FrameInfo{Frame: i, Used: f.used, Pinned: f.pinned}
		if f.used {
			result[i].Owner = f.owner
			result[i].Page = fmt.Sprintf("%#x", f.upage)
		}
	}
	return result
}

// Close releases the swap device.
func (ft *FrameTable) Close() error {
	if ft.swap == nil {
		return nil
	}
	return ft.swap.Close()
}
