package chunk

import "sync/atomic"

// Chunk is one fetched byte range of the target file. The payload is owned
// by the chunk until the writer flushes it to disk and calls Release.
type Chunk struct {
	ID        int
	Range     Range
	payload   []byte
	completed atomic.Bool
}

func New(id int, r Range, payload []byte) *Chunk {
	return &Chunk{ID: id, Range: r, payload: payload}
}

// Placeholder builds a completed chunk without payload, standing for data a
// previous run already wrote to the output file.
func Placeholder(id int, r Range) *Chunk {
	c := &Chunk{ID: id, Range: r}
	c.completed.Store(true)
	return c
}

func (c *Chunk) Payload() []byte {
	return c.payload
}

func (c *Chunk) Size() int64 {
	return c.Range.Size()
}

func (c *Chunk) Completed() bool {
	return c.completed.Load()
}

func (c *Chunk) MarkCompleted() {
	c.completed.Store(true)
}

// Release drops the payload once it is on disk.
func (c *Chunk) Release() {
	c.payload = nil
}
