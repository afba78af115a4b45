package userprog

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console backs descriptors 0 and 1 of every process.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewConsole returns a console reading from in and writing to out. A nil in
// behaves as an empty keyboard.
func NewConsole(in io.Reader, out io.Writer) *Console {
	if in == nil {
		in = strings.NewReader("")
	}
	return &Console{in: bufio.NewReader(in), out: out}
}

// Write writes p in one piece.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *Console) Printf(format string, args ...interface{}) {
	_, _ = c.Write([]byte(fmt.Sprintf(format, args...)))
}

// ReadLine reads at most max bytes, stopping at a newline (which is consumed
// but not returned) or at the end of input. ended reports that one of those
// stopped it rather than max.
func (c *Console) ReadLine(max int) (line []byte, ended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line = make([]byte, 0, max)
	for len(line) < max {
		b, err := c.in.ReadByte()
		if err != nil || b == '\n' {
			return line, true
		}
		line = append(line, b)
	}
	return line, false
}
