package vm

import "sync"

// PTE is a simulated hardware page table entry.
type PTE struct {
	Frame    int
	Writable bool
	Accessed bool
	Dirty    bool
}

// PageDir plays the role of the MMU's page tables for one address space:
// it maps user pages to frames and records accessed and dirty bits.
type PageDir struct {
	mu      sync.Mutex
	entries map[uintptr]*PTE
}

func NewPageDir() *PageDir {
	return &PageDir{entries: make(map[uintptr]*PTE)}
}

// Map installs a mapping for upage with clear accessed and dirty bits.
func (d *PageDir) Map(upage uintptr, frame int, writable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[upage] = &PTE{Frame: frame, Writable: writable}
}

// Unmap removes the mapping for upage and returns its last state.
func (d *PageDir) Unmap(upage uintptr) (PTE, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pte, ok := d.entries[upage]
	if !ok {
		return PTE{}, false
	}
	delete(d.entries, upage)
	return *pte, true
}

// Lookup returns the entry for upage without touching its bits.
func (d *PageDir) Lookup(upage uintptr) (PTE, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pte, ok := d.entries[upage]
	if !ok {
		return PTE{}, false
	}
	return *pte, true
}

// Touch performs the MMU check for an access to upage. It succeeds only if
// the page is mapped and, for writes, writable; it then sets the accessed
// bit, and the dirty bit for writes.
func (d *PageDir) Touch(upage uintptr, write bool) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pte, ok := d.entries[upage]
	if !ok || (write && !pte.Writable) {
		return 0, false
	}
	pte.Accessed = true
	if write {
		pte.Dirty = true
	}
	return pte.Frame, true
}

// SetAccessed overwrites the accessed bit of a mapped page.
func (d *PageDir) SetAccessed(upage uintptr, accessed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pte, ok := d.entries[upage]; ok {
		pte.Accessed = accessed
	}
}

// Len returns the number of mapped pages.
func (d *PageDir) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
