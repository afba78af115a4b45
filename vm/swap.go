package vm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Device stores page-sized blocks addressed by slot number.
type Device interface {
	WritePage(slot int, data []byte) error
	ReadPage(slot int, data []byte) error
	Close() error
}

// SwapTable hands out slots of a swap device.
type SwapTable struct {
	mu    sync.Mutex
	dev   Device
	used  []bool
	inUse int
}

// NewSwapTable manages slots page-sized slots on dev.
func NewSwapTable(dev Device, slots int) *SwapTable {
	return &SwapTable{dev: dev, used: make([]bool, slots)}
}

// Store writes one page to a free slot and returns the slot.
func (s *SwapTable) Store(data []byte) (int, error) {
	s.mu.Lock()
	slot := -1
	for i, used := range s.used {
		if !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		s.mu.Unlock()
		return -1, ErrSwapFull
	}
	s.used[slot] = true
	s.inUse++
	s.mu.Unlock()

	if err := s.dev.WritePage(slot, data); err != nil {
		s.Free(slot)
		return -1, fmt.Errorf("writing swap slot %d: %w", slot, err)
	}
	return slot, nil
}

// Load reads slot into data. The slot stays allocated.
func (s *SwapTable) Load(slot int, data []byte) error {
	s.mu.Lock()
	valid := slot >= 0 && slot < len(s.used) && s.used[slot]
	s.mu.Unlock()
	if !valid {
		return fmt.Errorf("swap slot %d is not in use", slot)
	}
	if err := s.dev.ReadPage(slot, data); err != nil {
		return fmt.Errorf("reading swap slot %d: %w", slot, err)
	}
	return nil
}

// Free releases slot. Freeing a free slot is a no-op.
func (s *SwapTable) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.used) || !s.used[slot] {
		return
	}
	s.used[slot] = false
	s.inUse--
}

// Used returns the number of occupied slots.
func (s *SwapTable) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Slots returns the capacity of the table.
func (s *SwapTable) Slots() int {
	return len(s.used)
}

// Close closes the underlying device.
func (s *SwapTable) Close() error {
	return s.dev.Close()
}

// FileDevice keeps every slot in a single swap file, slot n at offset n*PageSize.
type FileDevice struct {
	path  string
	f     *os.File
	delay int
}

// NewFileDevice creates (or truncates) the swap file at path. delayMs is the
// simulated latency applied to every transfer.
func NewFileDevice(path string, delayMs int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening swap file %s: %w", path, err)
	}
	utils.InfoLog.Info("Swap file ready", "path", path)
	return &FileDevice{path: path, f: f, delay: delayMs}, nil
}

func (d *FileDevice) WritePage(slot int, data []byte) error {
	utils.AplicarRetardo("swap", d.delay)
	_, err := d.f.WriteAt(data[:PageSize], int64(slot)*PageSize)
	return err
}

func (d *FileDevice) ReadPage(slot int, data []byte) error {
	utils.AplicarRetardo("swap", d.delay)
	_, err := d.f.ReadAt(data[:PageSize], int64(slot)*PageSize)
	return err
}

// Close closes and removes the swap file.
func (d *FileDevice) Close() error {
	if err := d.f.Close(); err != nil {
		return err
	}
	return os.Remove(d.path)
}

// ObjectDevice keeps every slot as its own object under a base URL of any
// afs-supported storage.
type ObjectDevice struct {
	ctx     context.Context
	fs      afs.Service
	baseURL string
}

// NewObjectDevice creates the base location if needed.
func NewObjectDevice(ctx context.Context, fs afs.Service, baseURL string) (*ObjectDevice, error) {
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("creating swap location %s: %w", baseURL, err)
		}
	}
	utils.InfoLog.Info("Swap object store ready", "url", baseURL)
	return &ObjectDevice{ctx: ctx, fs: fs, baseURL: baseURL}, nil
}

func (d *ObjectDevice) slotURL(slot int) string {
	return url.Join(d.baseURL, "slot-"+strconv.Itoa(slot)+".page")
}

func (d *ObjectDevice) WritePage(slot int, data []byte) error {
	return d.fs.Upload(d.ctx, d.slotURL(slot), file.DefaultFileOsMode, bytes.NewReader(data[:PageSize]))
}

func (d *ObjectDevice) ReadPage(slot int, data []byte) error {
	content, err := d.fs.DownloadWithURL(d.ctx, d.slotURL(slot))
	if err != nil {
		return err
	}
	if len(content) != PageSize {
		return fmt.Errorf("swap object %s has %d bytes", d.slotURL(slot), len(content))
	}
	copy(data, content)
	return nil
}

// Close removes every stored slot.
func (d *ObjectDevice) Close() error {
	if exists, _ := d.fs.Exists(d.ctx, d.baseURL); !exists {
		return nil
	}
	return d.fs.Delete(d.ctx, d.baseURL)
}
