package chunk

import (
	"errors"
	"fmt"
)

var ErrInvalidRange = errors.New("invalid chunk range")

// Range is an inclusive byte range [Start, End].
type Range struct {
	Start int64
	End   int64
}

func (r Range) Size() int64 {
	return r.End - r.Start + 1
}

func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Count returns the number of chunks needed to cover fileSize bytes.
func Count(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// Compute returns the byte range of chunk id. Every chunk but the last spans
// exactly chunkSize bytes; the last one ends at fileSize-1, which makes it a
// full chunk when fileSize is an exact multiple of chunkSize.
func Compute(id int, fileSize, chunkSize int64, totalChunks int) (Range, error) {
	if totalChunks < 1 || id < 0 || id >= totalChunks || chunkSize <= 0 {
		return Range{}, fmt.Errorf("%w: id=%d totalChunks=%d chunkSize=%d", ErrInvalidRange, id, totalChunks, chunkSize)
	}
	start := int64(id) * chunkSize
	if start >= fileSize {
		return Range{}, fmt.Errorf("%w: chunk %d starts at %d beyond file size %d", ErrInvalidRange, id, start, fileSize)
	}
	if id == totalChunks-1 {
		return Range{Start: start, End: fileSize - 1}, nil
	}
	return Range{Start: start, End: start + chunkSize - 1}, nil
}
