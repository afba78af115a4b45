// Package loader turns an executable in the file store into a ready-to-run
// address space: one lazily loaded page per segment page, a stack page and
// the program arguments pushed in the x86 calling convention.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/LosCuervosXeneizes/nucleo/filesys"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/LosCuervosXeneizes/nucleo/vm"
)

const (
	// MaxArgs bounds the number of command line words.
	MaxArgs = 64
	// MaxCommandLine bounds the command line length in bytes.
	MaxCommandLine = 1024
)

var ErrUnknownProgram = errors.New("unknown program")

// Program is a loaded process image.
type Program struct {
	Name  string
	Argv  []string
	Entry uint32
	Space *vm.AddressSpace
	// File is the open executable. Writes to it stay denied until it is closed.
	File *filesys.File
}

// Loader loads executables from a file store into frames of a frame table.
type Loader struct {
	fs     *filesys.Service
	frames *vm.FrameTable
}

func New(fs *filesys.Service, frames *vm.FrameTable) *Loader {
	return &Loader{fs: fs, frames: frames}
}

// Install places an executable image in the file store.
func (l *Loader) Install(name string, image []byte) error {
	return l.fs.Install(name, image)
}

// Load parses cmdline, opens the executable named by its first word and
// builds the address space of owner. On failure nothing is left behind.
func (l *Loader) Load(owner threads.ID, cmdline string) (*Program, error) {
	argv, err := ParseCommandLine(cmdline)
	if err != nil {
		return nil, err
	}

	f, err := l.fs.Open(argv[0])
	if err != nil {
		if errors.Is(err, filesys.ErrNotFound) || errors.Is(err, filesys.ErrInvalidName) {
			return nil, fmt.Errorf("loading %s: %w", argv[0], ErrUnknownProgram)
		}
		return nil, fmt.Errorf("loading %s: %w", argv[0], err)
	}
	f.DenyWrite()

	space := l.frames.NewAddressSpace(owner)
	prog := &Program{Name: argv[0], Argv: argv, Space: space, File: f}
	if err := l.populate(prog); err != nil {
		space.Destroy()
		_ = f.Close()
		utils.InfoLog.Info("Load failed", "program", argv[0], "error", err)
		return nil, fmt.Errorf("loading %s: %w", argv[0], err)
	}
	utils.InfoLog.Debug("Program loaded", "program", argv[0], "tid", owner, "esp", fmt.Sprintf("%#x", space.StackPointer()))
	return prog, nil
}

func (l *Loader) populate(prog *Program) error {
	header, err := ReadHeader(prog.File, prog.File.Length())
	if err != nil {
		return err
	}
	prog.Entry = header.Entry
	for _, s := range header.Segments {
		if err := loadSegment(prog.Space, prog.File, s); err != nil {
			return err
		}
	}
	if err := prog.Space.AddZeroPage(vm.PhysBase-vm.PageSize, true); err != nil {
		return err
	}
	prog.Space.SetStackPointer(vm.PhysBase)
	return pushArguments(prog.Space, prog.Argv)
}

// loadSegment installs one supplemental page table entry per page of s.
func loadSegment(space *vm.AddressSpace, f *filesys.File, s Segment) error {
	pageOffset := uintptr(s.VAddr) % vm.PageSize
	upage := vm.PageRound(uintptr(s.VAddr))
	offset := int64(s.Offset) - int64(pageOffset)

	readBytes := 0
	if s.FileSize > 0 {
		readBytes = int(pageOffset) + int(s.FileSize)
	}
	total := int(pageOffset) + int(s.MemSize)

	for total > 0 {
		pageRead := readBytes
		if pageRead > vm.PageSize {
			pageRead = vm.PageSize
		}
		var err error
		if pageRead > 0 {
			err = space.AddFilePage(upage, f, offset, pageRead, s.Writable)
		} else {
			err = space.AddZeroPage(upage, s.Writable)
		}
		if err != nil {
			return err
		}
		readBytes -= pageRead
		total -= vm.PageSize
		offset += vm.PageSize
		upage += vm.PageSize
	}
	return nil
}

// ParseCommandLine splits cmdline on spaces.
func ParseCommandLine(cmdline string) ([]string, error) {
	if len(cmdline) > MaxCommandLine {
		return nil, fmt.Errorf("command line of %d bytes: %w", len(cmdline), ErrUnknownProgram)
	}
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command line: %w", ErrUnknownProgram)
	}
	if len(argv) > MaxArgs {
		return nil, fmt.Errorf("%d arguments: %w", len(argv), ErrUnknownProgram)
	}
	return argv, nil
}

// pushArguments lays out argv on the user stack: the strings, word
// alignment, the argv[] array with its null sentinel, argv, argc and a fake
// return address. The stack pointer is left on the return address.
func pushArguments(space *vm.AddressSpace, argv []string) error {
	esp := space.StackPointer()
	addrs := make([]uint32, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]byte(argv[i]), 0)
		esp -= uintptr(len(s))
		if err := space.Write(esp, s); err != nil {
			return err
		}
		addrs[i] = uint32(esp)
	}
	esp &^= 3

	words := make([]uint32, 0, len(argv)+4)
	words = append(words, 0) // return address
	words = append(words, uint32(len(argv)))
	argvAddr := uint32(esp) - uint32(4*(len(argv)+1))
	words = append(words, argvAddr)
	words = append(words, addrs...)
	words = append(words, 0) // argv[argc]

	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	esp -= uintptr(len(buf))
	if err := space.Write(esp, buf); err != nil {
		return err
	}
	space.SetStackPointer(esp)
	return nil
}
