package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/RoaringBitmap/roaring"
	"github.com/tanq16/mirrordl/internal/chunk"
)

const formatVersion = 1

var (
	magic      = [4]byte{'M', 'D', 'L', '1'}
	ErrCorrupt = errors.New("metadata file is corrupt")
)

type header struct {
	Magic     [4]byte
	Version   uint16
	FileSize  int64
	ChunkSize int64
	Count     uint32
}

type snapshotFile struct {
	FileSize  int64
	ChunkSize int64
	Bitmap    chunk.Bitmap
}

// encode lays out a fixed header, the set indices as a portable roaring
// bitmap, and a trailing CRC32 over everything before it.
func encode(b chunk.Bitmap, fileSize, chunkSize int64) ([]byte, error) {
	var buf bytes.Buffer
	h := header{Magic: magic, Version: formatVersion, FileSize: fileSize, ChunkSize: chunkSize, Count: uint32(len(b))}
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, i := range b.Indices() {
		bm.Add(uint32(i))
	}
	bm.RunOptimize()
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("error encoding bitmap: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(buf.Bytes())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*snapshotFile, error) {
	if len(data) < binary.Size(header{})+4 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(data))
	}
	body, sum := data[:len(data)-4], binary.BigEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	r := bytes.NewReader(body)
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	b := make(chunk.Bitmap, h.Count)
	it := bm.Iterator()
	for it.HasNext() {
		i := it.Next()
		if i >= h.Count {
			return nil, fmt.Errorf("%w: index %d beyond chunk count %d", ErrCorrupt, i, h.Count)
		}
		b[i] = true
	}
	return &snapshotFile{FileSize: h.FileSize, ChunkSize: h.ChunkSize, Bitmap: b}, nil
}
