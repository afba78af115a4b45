package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/LosCuervosXeneizes/nucleo/vm"
)

// Magic starts every executable image.
var Magic = [4]byte{'N', 'U', 'C', 'L'}

const (
	headerSize  = 12
	segmentSize = 20
	maxSegments = 16

	flagWritable = 1
)

var ErrBadImage = errors.New("malformed executable image")

// Segment describes one loadable segment: FileSize bytes at Offset in the
// image are mapped at VAddr, followed by MemSize-FileSize zero bytes.
type Segment struct {
	VAddr    uint32
	Offset   uint32
	FileSize uint32
	MemSize  uint32
	Writable bool
}

// Header is the program header table of an image.
type Header struct {
	Entry    uint32
	Segments []Segment
}

// SegmentData is a segment to be laid out by Build.
type SegmentData struct {
	VAddr    uint32
	Data     []byte
	MemSize  uint32
	Writable bool
}

// Build lays the segments out into an image. Each segment is placed at a
// file offset congruent to its address modulo the page size. Segments
// without data take no room in the file.
func Build(entry uint32, segments []SegmentData) []byte {
	header := Header{Entry: entry}
	offset := uint32(headerSize + segmentSize*len(segments))
	size := offset
	for _, s := range segments {
		memSize := s.MemSize
		if memSize < uint32(len(s.Data)) {
			memSize = uint32(len(s.Data))
		}
		seg := Segment{
			VAddr:    s.VAddr,
			Offset:   s.VAddr % vm.PageSize,
			FileSize: uint32(len(s.Data)),
			MemSize:  memSize,
			Writable: s.Writable,
		}
		if len(s.Data) > 0 {
			offset = roundUp(offset, vm.PageSize) + s.VAddr%vm.PageSize
			seg.Offset = offset
			offset += seg.FileSize
		}
		if end := seg.Offset + seg.FileSize; end > size {
			size = end
		}
		header.Segments = append(header.Segments, seg)
	}

	image := make([]byte, size)
	copy(image, encodeHeader(header))
	for i, s := range segments {
		copy(image[header.Segments[i].Offset:], s.Data)
	}
	return image
}

func encodeHeader(h Header) []byte {
	buf := new(bytes.Buffer)
	buf.Write(Magic[:])
	_ = binary.Write(buf, binary.LittleEndian, h.Entry)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(h.Segments)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))
	for _, s := range h.Segments {
		var flags uint32
		if s.Writable {
			flags |= flagWritable
		}
		for _, v := range []uint32{s.VAddr, s.Offset, s.FileSize, s.MemSize, flags} {
			_ = binary.Write(buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

// ReadHeader parses and validates the header of the image r of the given length.
func ReadHeader(r io.ReaderAt, length int64) (Header, error) {
	fixed := make([]byte, headerSize)
	if n, _ := r.ReadAt(fixed, 0); n != headerSize {
		return Header{}, fmt.Errorf("short header: %w", ErrBadImage)
	}
	if !bytes.Equal(fixed[:4], Magic[:]) {
		return Header{}, fmt.Errorf("bad magic %q: %w", fixed[:4], ErrBadImage)
	}
	h := Header{Entry: binary.LittleEndian.Uint32(fixed[4:8])}
	count := int(binary.LittleEndian.Uint16(fixed[8:10]))
	if count == 0 || count > maxSegments {
		return Header{}, fmt.Errorf("%d segments: %w", count, ErrBadImage)
	}

	table := make([]byte, count*segmentSize)
	if n, _ := r.ReadAt(table, headerSize); n != len(table) {
		return Header{}, fmt.Errorf("short segment table: %w", ErrBadImage)
	}
	entryMapped := false
	for i := 0; i < count; i++ {
		raw := table[i*segmentSize:]
		s := Segment{
			VAddr:    binary.LittleEndian.Uint32(raw[0:]),
			Offset:   binary.LittleEndian.Uint32(raw[4:]),
			FileSize: binary.LittleEndian.Uint32(raw[8:]),
			MemSize:  binary.LittleEndian.Uint32(raw[12:]),
			Writable: binary.LittleEndian.Uint32(raw[16:])&flagWritable != 0,
		}
		if err := validateSegment(s, length); err != nil {
			return Header{}, fmt.Errorf("segment %d: %w", i, err)
		}
		if h.Entry >= s.VAddr && h.Entry < s.VAddr+s.MemSize {
			entryMapped = true
		}
		h.Segments = append(h.Segments, s)
	}
	if !entryMapped {
		return Header{}, fmt.Errorf("entry %#x outside every segment: %w", h.Entry, ErrBadImage)
	}
	return h, nil
}

func validateSegment(s Segment, length int64) error {
	switch {
	case s.Offset%vm.PageSize != s.VAddr%vm.PageSize:
		return fmt.Errorf("offset %#x and address %#x disagree on page offset: %w", s.Offset, s.VAddr, ErrBadImage)
	case int64(s.Offset)+int64(s.FileSize) > length:
		return fmt.Errorf("segment extends past end of file: %w", ErrBadImage)
	case s.MemSize < s.FileSize || s.MemSize == 0:
		return fmt.Errorf("memory size %d smaller than file size %d: %w", s.MemSize, s.FileSize, ErrBadImage)
	case s.VAddr < vm.PageSize:
		return fmt.Errorf("segment maps page 0: %w", ErrBadImage)
	case uint64(s.VAddr)+uint64(s.MemSize) > uint64(vm.PhysBase):
		return fmt.Errorf("segment reaches kernel space: %w", ErrBadImage)
	}
	return nil
}

func roundUp(n, to uint32) uint32 {
	return (n + to - 1) / to * to
}
