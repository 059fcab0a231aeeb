package chunk

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableIsEmpty(t *testing.T) {
	table := NewTable(300000, 128000)
	assert.Equal(t, 3, table.Count())
	assert.Equal(t, []int{0, 1, 2}, table.RemainingIndices())
	assert.Empty(t, table.CompletedIndices())
	assert.Nil(t, table.Get(0))
	assert.Nil(t, table.Get(7))
	assert.Zero(t, table.CompletedBytes())
}

func TestTableConcurrentDisjointSet(t *testing.T) {
	const fileSize, chunkSize = 1 << 20, 1 << 10
	table := NewTable(fileSize, chunkSize)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	// Reader goroutine mimics the writer polling arbitrary slots.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			i := rand.IntN(table.Count())
			if c := table.Get(i); c != nil {
				assert.Equal(t, i, c.ID)
				assert.Len(t, c.Payload(), int(c.Size()))
			}
		}
	}()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < table.Count(); i += 8 {
				r, err := table.Range(i)
				require.NoError(t, err)
				table.Set(i, New(i, r, make([]byte, r.Size())))
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	assert.Empty(t, table.RemainingIndices())
	assert.Empty(t, table.CompletedIndices(), "fetched chunks are not completed until written")
}

func TestTableSetTwicePanics(t *testing.T) {
	table := NewTable(300000, 128000)
	r, _ := table.Range(1)
	table.Set(1, New(1, r, nil))
	assert.Panics(t, func() { table.Set(1, New(1, r, nil)) })
	assert.Panics(t, func() { table.Set(3, New(3, r, nil)) })
}

func TestSnapshotRoundTrip(t *testing.T) {
	bitmaps := []Bitmap{
		{false, false, false},
		{true, false, false},
		{true, true, true},
		{false, true, true},
		{true, false, true},
	}
	for _, b := range bitmaps {
		table := NewTableFromSnapshot(b, 300000, 128000)
		assert.True(t, b.Equal(Snapshot(table)), "round trip of %v", b)
	}
}

func TestRestoredTableHasPlaceholders(t *testing.T) {
	table := NewTableFromSnapshot(Bitmap{true, false, true}, 300000, 128000)
	c := table.Get(0)
	require.NotNil(t, c)
	assert.True(t, c.Completed())
	assert.Nil(t, c.Payload())
	assert.Equal(t, []int{1}, table.RemainingIndices())
	assert.Equal(t, []int{0, 2}, table.CompletedIndices())
	assert.Equal(t, int64(128000+44000), table.CompletedBytes())
}

func TestSnapshotTracksFetchedNotWritten(t *testing.T) {
	table := NewTable(300000, 128000)
	r, _ := table.Range(2)
	table.Set(2, New(2, r, make([]byte, r.Size())))
	assert.Equal(t, Bitmap{false, false, true}, Snapshot(table))
	assert.Equal(t, []int{2}, Snapshot(table).Indices())
}
