// Package vm implements demand-paged virtual memory for user processes: a
// simulated page directory per address space, the global frame table with
// enhanced second-chance eviction, the swap table and the supplemental page
// table that resolves page faults.
package vm

import "errors"

const (
	// PageSize is the size of a page and of a frame, in bytes.
	PageSize = 4096
	// PhysBase is the first address above user space.
	PhysBase uintptr = 0xC0000000

	// DefaultStackLimit bounds how far the user stack may grow below PhysBase.
	DefaultStackLimit uintptr = 8 << 20
	// DefaultStackSlack is how far below the stack pointer an access may
	// fault and still grow the stack (the x86 PUSHA distance).
	DefaultStackSlack uintptr = 32
)

var (
	ErrNoEvictableFrame = errors.New("no evictable frame")
	ErrSwapFull         = errors.New("swap device full")
	ErrInvalidAccess    = errors.New("invalid memory access")
	ErrDuplicatePage    = errors.New("page already mapped")
)

// PageRound returns the address of the page containing addr.
func PageRound(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// PageOffset returns the offset of addr inside its page.
func PageOffset(addr uintptr) uintptr {
	return addr & (PageSize - 1)
}

// IsUserAddr reports whether addr lies in user space.
func IsUserAddr(addr uintptr) bool {
	return addr != 0 && addr < PhysBase
}
