package vm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/tracing"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Source tells where the contents of a non-resident page come from.
type Source int

const (
	SourceZero Source = iota
	SourceFile
	SourceSwap
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceSwap:
		return "swap"
	}
	return "zero"
}

// page is a supplemental page table entry.
type page struct {
	upage    uintptr
	writable bool
	source   Source
	resident bool
	frame    int

	file      io.ReaderAt
	offset    int64
	readBytes int

	swapSlot int
	// anonymous pages have no copy outside memory once resident, so they
	// must go to swap when evicted even if clean.
	anonymous bool
}

// SpaceStats are per address space paging counters.
type SpaceStats struct {
	Faults       int64 `json:"faults"`
	ZeroFills    int64 `json:"zeroFills"`
	FileReads    int64 `json:"fileReads"`
	SwapIns      int64 `json:"swapIns"`
	SwapOuts     int64 `json:"swapOuts"`
	Evictions    int64 `json:"evictions"`
	StackGrowths int64 `json:"stackGrowths"`
}

// AddressSpace is the user address space of one thread: its page directory
// and its supplemental page table. Only the owning thread touches it, except
// the frame table which evicts its pages while holding the frame lock.
type AddressSpace struct {
	owner  threads.ID
	frames *FrameTable
	dir    *PageDir
	pages  map[uintptr]*page
	esp    uintptr
	stats  SpaceStats
}

// NewAddressSpace creates an empty address space owned by owner and
// registers it with the frame table.
func (ft *FrameTable) NewAddressSpace(owner threads.ID) *AddressSpace {
	as := &AddressSpace{
		owner:  owner,
		frames: ft,
		dir:    NewPageDir(),
		pages:  make(map[uintptr]*page),
		esp:    PhysBase,
	}
	ft.mu.Lock()
	ft.spaces[owner] = as
	ft.mu.Unlock()
	return as
}

func (as *AddressSpace) Owner() threads.ID { return as.owner }

func (as *AddressSpace) StackPointer() uintptr { return as.esp }

func (as *AddressSpace) SetStackPointer(esp uintptr) { as.esp = esp }

func (as *AddressSpace) Stats() SpaceStats {
	as.frames.lock.Acquire()
	defer as.frames.lock.Release()
	return as.stats
}

// AddFilePage registers a lazily loaded page whose first readBytes bytes come
// from f at offset and whose remainder is zero.
func (as *AddressSpace) AddFilePage(upage uintptr, f io.ReaderAt, offset int64, readBytes int, writable bool) error {
	if readBytes < 0 || readBytes > PageSize {
		return fmt.Errorf("page %#x: read size %d out of range", upage, readBytes)
	}
	return as.addPage(&page{
		upage:     upage,
		writable:  writable,
		source:    SourceFile,
		file:      f,
		offset:    offset,
		readBytes: readBytes,
	})
}

// AddZeroPage registers a lazily zero-filled page.
func (as *AddressSpace) AddZeroPage(upage uintptr, writable bool) error {
	return as.addPage(&page{upage: upage, writable: writable, source: SourceZero})
}

func (as *AddressSpace) addPage(pg *page) error {
	if PageOffset(pg.upage) != 0 || !IsUserAddr(pg.upage) {
		return fmt.Errorf("page %#x: %w", pg.upage, ErrInvalidAccess)
	}
	as.frames.lock.Acquire()
	defer as.frames.lock.Release()
	if _, exists := as.pages[pg.upage]; exists {
		return fmt.Errorf("page %#x: %w", pg.upage, ErrDuplicatePage)
	}
	pg.frame = -1
	pg.swapSlot = -1
	as.pages[pg.upage] = pg
	return nil
}

// HandleFault resolves a page fault at addr. Missing pages near the stack
// pointer grow the stack; anything else that is missing, resident, or a
// write to a read-only page is an invalid access.
func (as *AddressSpace) HandleFault(addr uintptr, write bool) error {
	_, span := tracing.StartSpan(context.Background(), "vm.page_fault", "INTERNAL")
	span.WithAttributes(map[string]string{"address": fmt.Sprintf("%#x", addr)})

	as.frames.lock.Acquire()
	err := as.faultLocked(addr, write)
	as.frames.lock.Release()

	tracing.EndSpan(span, err)
	return err
}

func (as *AddressSpace) faultLocked(addr uintptr, write bool) error {
	as.stats.Faults++
	if !IsUserAddr(addr) {
		return fmt.Errorf("fault at %#x: %w", addr, ErrInvalidAccess)
	}
	upage := PageRound(addr)
	pg, ok := as.pages[upage]
	if !ok {
		if !as.inStackRegion(addr) {
			return fmt.Errorf("fault at %#x below stack pointer %#x: %w", addr, as.esp, ErrInvalidAccess)
		}
		pg = &page{upage: upage, writable: true, source: SourceZero, frame: -1, swapSlot: -1}
		as.pages[upage] = pg
		as.stats.StackGrowths++
		utils.InfoLog.Debug(fmt.Sprintf("## TID: %d - Stack grows to %#x", as.owner, upage))
	}
	if pg.resident {
		return fmt.Errorf("fault at %#x on resident page: %w", addr, ErrInvalidAccess)
	}
	if write && !pg.writable {
		return fmt.Errorf("write to read-only page %#x: %w", upage, ErrInvalidAccess)
	}

	idx, err := as.frames.allocateLocked(as.owner, upage)
	if err != nil {
		return err
	}
	if err := as.populate(pg, idx); err != nil {
		as.frames.freeLocked(idx)
		return fmt.Errorf("paging in %#x: %w", upage, err)
	}
	as.dir.Map(upage, idx, pg.writable)
	pg.resident = true
	pg.frame = idx
	as.frames.Unpin(idx)
	return nil
}

// inStackRegion reports whether a fault at addr may grow the stack.
func (as *AddressSpace) inStackRegion(addr uintptr) bool {
	cfg := as.frames.cfg
	if addr < PhysBase-cfg.StackLimit {
		return false
	}
	return as.esp < cfg.StackSlack || addr >= as.esp-cfg.StackSlack
}

func (as *AddressSpace) populate(pg *page, idx int) error {
	buf := make([]byte, PageSize)
	switch pg.source {
	case SourceFile:
		if pg.readBytes > 0 {
			n, err := pg.file.ReadAt(buf[:pg.readBytes], pg.offset)
			if n != pg.readBytes {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("reading %d bytes at offset %d: %w", pg.readBytes, pg.offset, err)
			}
		}
		as.stats.FileReads++
	case SourceSwap:
		if err := as.frames.swap.Load(pg.swapSlot, buf); err != nil {
			return err
		}
		as.frames.swap.Free(pg.swapSlot)
		utils.InfoLog.Info(fmt.Sprintf("## TID: %d - Page %#x restored from swap slot %d", as.owner, pg.upage, pg.swapSlot))
		pg.swapSlot = -1
		as.stats.SwapIns++
	default:
		as.stats.ZeroFills++
	}
	as.frames.copyIn(idx, 0, buf)
	return nil
}

// Read copies len(dst) bytes of user memory at addr into dst, faulting pages
// in as the MMU would.
func (as *AddressSpace) Read(addr uintptr, dst []byte) error {
	return as.access(addr, dst, false)
}

// Write copies src into user memory at addr, faulting pages in as needed.
func (as *AddressSpace) Write(addr uintptr, src []byte) error {
	return as.access(addr, src, true)
}

func (as *AddressSpace) access(addr uintptr, buf []byte, write bool) error {
	done := uintptr(0)
	for done < uintptr(len(buf)) {
		va := addr + done
		if !IsUserAddr(va) {
			return fmt.Errorf("access at %#x: %w", va, ErrInvalidAccess)
		}
		upage, off := PageRound(va), PageOffset(va)
		chunk := uintptr(PageSize) - off
		if rest := uintptr(len(buf)) - done; rest < chunk {
			chunk = rest
		}

		idx, ok := as.dir.Touch(upage, write)
		if !ok {
			if err := as.HandleFault(va, write); err != nil {
				return err
			}
			continue
		}
		if write {
			as.frames.copyIn(idx, off, buf[done:done+chunk])
		} else {
			as.frames.copyOut(idx, off, buf[done:done+chunk])
		}
		done += chunk
	}
	return nil
}

// Destroy releases every resident frame and swap slot without write-back
// and unregisters the address space.
func (as *AddressSpace) Destroy() {
	ft := as.frames
	ft.lock.Acquire()
	for upage, pg := range as.pages {
		if pg.resident {
			as.dir.Unmap(upage)
			ft.freeLocked(pg.frame)
		} else if pg.source == SourceSwap && pg.swapSlot >= 0 {
			ft.swap.Free(pg.swapSlot)
		}
		delete(as.pages, upage)
	}
	ft.mu.Lock()
	delete(ft.spaces, as.owner)
	ft.mu.Unlock()
	ft.lock.Release()
	utils.InfoLog.Debug(fmt.Sprintf("## TID: %d - Address space destroyed", as.owner))
}

// Pages returns the number of pages in the supplemental page table.
func (as *AddressSpace) Pages() int {
	as.frames.lock.Acquire()
	defer as.frames.lock.Release()
	return len(as.pages)
}

// Dump writes the resident pages of owner to a dump file under baseURL,
// named <tid>-<timestamp>.dmp, and returns its URL.
func (ft *FrameTable) Dump(ctx context.Context, fs afs.Service, baseURL string, owner threads.ID) (string, error) {
	ft.mu.Lock()
	var frames []int
	for i, f := range ft.frames {
		if f.used && f.owner == owner {
			frames = append(frames, i)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return ft.frames[frames[i]].upage < ft.frames[frames[j]].upage })

	var sb strings.Builder
	for _, i := range frames {
		fmt.Fprintf(&sb, "page %#x frame %d\n", ft.frames[i].upage, i)
	}
	content := []byte(sb.String())
	for _, i := range frames {
		content = append(content, ft.memory[i*PageSize:(i+1)*PageSize]...)
	}
	ft.mu.Unlock()

	if len(frames) == 0 {
		return "", fmt.Errorf("thread %d has no resident pages", owner)
	}
	name := fmt.Sprintf("%d-%s.dmp", owner, time.Now().Format("20060102-150405"))
	dumpURL := url.Join(baseURL, name)
	if err := fs.Upload(ctx, dumpURL, file.DefaultFileOsMode, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("writing dump %s: %w", dumpURL, err)
	}
	utils.InfoLog.Info(fmt.Sprintf("## TID: %d - Memory dump written", owner), "url", dumpURL)
	return dumpURL, nil
}
