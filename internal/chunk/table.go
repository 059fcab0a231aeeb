package chunk

import (
	"fmt"
	"sync/atomic"
)

// Table maps chunk indices to fetched chunks. Each slot is published with an
// atomic pointer store, so fetchers may fill disjoint slots concurrently while
// the writer reads any slot without locking.
type Table struct {
	fileSize  int64
	chunkSize int64
	slots     []atomic.Pointer[Chunk]
}

func NewTable(fileSize, chunkSize int64) *Table {
	return &Table{
		fileSize:  fileSize,
		chunkSize: chunkSize,
		slots:     make([]atomic.Pointer[Chunk], Count(fileSize, chunkSize)),
	}
}

// NewTableFromSnapshot restores a table where every set bit becomes a
// placeholder-completed chunk. Bits beyond the table length are ignored.
func NewTableFromSnapshot(b Bitmap, fileSize, chunkSize int64) *Table {
	t := NewTable(fileSize, chunkSize)
	for i, done := range b {
		if !done || i >= len(t.slots) {
			continue
		}
		r, err := t.Range(i)
		if err != nil {
			continue
		}
		t.slots[i].Store(Placeholder(i, r))
	}
	return t
}

func (t *Table) FileSize() int64 {
	return t.fileSize
}

func (t *Table) ChunkSize() int64 {
	return t.chunkSize
}

func (t *Table) Count() int {
	return len(t.slots)
}

func (t *Table) Range(index int) (Range, error) {
	return Compute(index, t.fileSize, t.chunkSize, len(t.slots))
}

// Get returns the chunk at index, or nil when the slot is still empty.
func (t *Table) Get(index int) *Chunk {
	if index < 0 || index >= len(t.slots) {
		return nil
	}
	return t.slots[index].Load()
}

// Set publishes c at index. Callers own disjoint indices, so filling a slot
// twice is a bug and panics.
func (t *Table) Set(index int, c *Chunk) {
	if index < 0 || index >= len(t.slots) {
		panic(fmt.Sprintf("chunk: index %d out of range [0,%d)", index, len(t.slots)))
	}
	if !t.slots[index].CompareAndSwap(nil, c) {
		panic(fmt.Sprintf("chunk: slot %d already published", index))
	}
}

func (t *Table) CompletedIndices() []int {
	var indices []int
	for i := range t.slots {
		if c := t.slots[i].Load(); c != nil && c.Completed() {
			indices = append(indices, i)
		}
	}
	return indices
}

// RemainingIndices lists slots with nothing fetched yet.
func (t *Table) RemainingIndices() []int {
	var indices []int
	for i := range t.slots {
		if t.slots[i].Load() == nil {
			indices = append(indices, i)
		}
	}
	return indices
}

func (t *Table) CompletedBytes() int64 {
	var total int64
	for i := range t.slots {
		if c := t.slots[i].Load(); c != nil && c.Completed() {
			total += c.Size()
		}
	}
	return total
}
