// Package filesys is the file store user processes reach through the file
// syscalls. Files live as objects under a base URL of any afs storage; an
// open file is an in-memory inode shared by every handle on the same name.
package filesys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// NameMax is the longest accepted file name.
const NameMax = 14

var (
	ErrNotFound    = errors.New("file not found")
	ErrExists      = errors.New("file already exists")
	ErrInvalidName = errors.New("invalid file name")
)

type inode struct {
	name      string
	url       string
	data      []byte
	openCount int
	denyWrite int
	removed   bool
	dirty     bool
}

// Service is the file store.
type Service struct {
	ctx     context.Context
	fs      afs.Service
	baseURL string

	mu     sync.Mutex
	inodes map[string]*inode
}

// New opens the store rooted at baseURL, creating it if needed.
func New(ctx context.Context, fs afs.Service, baseURL string) (*Service, error) {
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("creating file store %s: %w", baseURL, err)
		}
	}
	utils.InfoLog.Info("File store ready", "url", baseURL)
	return &Service{
		ctx:     ctx,
		fs:      fs,
		baseURL: baseURL,
		inodes:  make(map[string]*inode),
	}, nil
}

func (s *Service) fileURL(name string) string {
	return url.Join(s.baseURL, name)
}

func validName(name string) error {
	if name == "" || len(name) > NameMax || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// Create makes a zero-filled file of size bytes.
func (s *Service) Create(name string, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("creating %s: negative size %d", name, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fileURL := s.fileURL(name)
	exists, err := s.fs.Exists(s.ctx, fileURL)
	if err != nil {
		return fmt.Errorf("checking %s: %w", name, err)
	}
	if exists {
		return fmt.Errorf("creating %s: %w", name, ErrExists)
	}
	if err := s.fs.Upload(s.ctx, fileURL, file.DefaultFileOsMode, bytes.NewReader(make([]byte, size))); err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	utils.InfoLog.Debug("File created", "name", name, "size", size)
	return nil
}

// Install stores content as the file name, replacing any previous file.
// It is used to place executables in the store.
func (s *Service) Install(name string, content []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Upload(s.ctx, s.fileURL(name), file.DefaultFileOsMode, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("installing %s: %w", name, err)
	}
	return nil
}

// Remove deletes name. Handles already open keep working on the old contents.
func (s *Service) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fileURL := s.fileURL(name)
	exists, err := s.fs.Exists(s.ctx, fileURL)
	if err != nil {
		return fmt.Errorf("checking %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("removing %s: %w", name, ErrNotFound)
	}
	if err := s.fs.Delete(s.ctx, fileURL); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	if ino, ok := s.inodes[name]; ok {
		ino.removed = true
		delete(s.inodes, name)
	}
	utils.InfoLog.Debug("File removed", "name", name)
	return nil
}

// Open returns a new handle on name positioned at offset 0.
func (s *Service) Open(name string) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ino, ok := s.inodes[name]
	if !ok {
		fileURL := s.fileURL(name)
		exists, err := s.fs.Exists(s.ctx, fileURL)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", name, err)
		}
		if !exists {
			return nil, fmt.Errorf("opening %s: %w", name, ErrNotFound)
		}
		data, err := s.fs.DownloadWithURL(s.ctx, fileURL)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		ino = &inode{name: name, url: fileURL, data: data}
		s.inodes[name] = ino
	}
	ino.openCount++
	return &File{svc: s, ino: ino}, nil
}

// OpenCount returns how many handles are open on name.
func (s *Service) OpenCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ino, ok := s.inodes[name]; ok {
		return ino.openCount
	}
	return 0
}

// Sync writes back the changed contents of every open file.
func (s *Service) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, ino := range s.inodes {
		if !ino.dirty || ino.removed {
			continue
		}
		if err := s.fs.Upload(s.ctx, ino.url, file.DefaultFileOsMode, bytes.NewReader(ino.data)); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", ino.name, err))
			continue
		}
		ino.dirty = false
	}
	return errors.Join(errs...)
}

// File is one open handle. Handles are not safe for concurrent use; the
// owning process serialises access.
type File struct {
	svc    *Service
	ino    *inode
	pos    int64
	denied bool
	closed bool
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.ino.name }

// Read reads from the current position and advances it.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes at off without moving the position.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("reading %s: negative offset", f.ino.name)
	}
	if off >= int64(len(f.ino.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.ino.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write writes at the current position and advances it. Files never grow:
// bytes past the end are dropped. Writing to a file some handle denied
// writes on writes nothing.
func (f *File) Write(p []byte) (int, error) {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	if f.ino.denyWrite > 0 || f.pos >= int64(len(f.ino.data)) {
		return 0, nil
	}
	n := copy(f.ino.data[f.pos:], p)
	f.pos += int64(n)
	if n > 0 {
		f.ino.dirty = true
	}
	return n, nil
}

// Seek sets the position. Positions past the end are allowed.
func (f *File) Seek(pos int64) {
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
}

// Tell returns the position.
func (f *File) Tell() int64 { return f.pos }

// Length returns the size of the file.
func (f *File) Length() int64 {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	return int64(len(f.ino.data))
}

// DenyWrite blocks writes through every handle until this handle allows them
// again or is closed.
func (f *File) DenyWrite() {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	if !f.denied {
		f.denied = true
		f.ino.denyWrite++
	}
}

// AllowWrite undoes DenyWrite.
func (f *File) AllowWrite() {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	f.allowWriteLocked()
}

func (f *File) allowWriteLocked() {
	if f.denied {
		f.denied = false
		f.ino.denyWrite--
	}
}

// Close releases the handle. When the last handle on a file closes, changed
// contents are written back unless the file was removed.
func (f *File) Close() error {
	s := f.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.allowWriteLocked()

	ino := f.ino
	ino.openCount--
	if ino.openCount > 0 {
		return nil
	}
	if !ino.removed {
		delete(s.inodes, ino.name)
	}
	if ino.dirty && !ino.removed {
		if err := s.fs.Upload(s.ctx, ino.url, file.DefaultFileOsMode, bytes.NewReader(ino.data)); err != nil {
			return fmt.Errorf("flushing %s: %w", ino.name, err)
		}
	}
	return nil
}
