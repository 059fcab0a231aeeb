package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/mirrordl/internal/chunk"
	"github.com/tanq16/mirrordl/internal/metadata"
	"github.com/tanq16/mirrordl/internal/metrics"
	"github.com/tanq16/mirrordl/internal/output"
	"github.com/tanq16/mirrordl/internal/progress"
	"github.com/tanq16/mirrordl/internal/testutils"
)

const (
	testFileSize  = 300000
	testChunkSize = 128000
)

type fixture struct {
	path    string
	data    []byte
	table   *chunk.Table
	queue   *chunk.Queue
	tracker *progress.Tracker
	store   *metadata.Store
	sink    *output.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		path: filepath.Join(t.TempDir(), "target.bin"),
		data: testutils.GenerateTestData(testFileSize),
		sink: output.NewRecorder(),
	}
	store, err := metadata.Open(f.path, testFileSize, testChunkSize, f.sink)
	require.NoError(t, err)
	f.store = store
	f.table = store.Load()
	f.queue = chunk.NewQueue(f.table.Count())
	f.tracker = progress.New(testFileSize, f.table.CompletedBytes(), f.sink)
	return f
}

// deliver does what a fetcher does on success.
func (f *fixture) deliver(t *testing.T, index int) {
	t.Helper()
	r, err := f.table.Range(index)
	require.NoError(t, err)
	payload := append([]byte(nil), f.data[r.Start:r.End+1]...)
	c := chunk.New(index, r, payload)
	f.table.Set(index, c)
	f.queue.Push(c)
}

func (f *fixture) writer(m *metrics.Metrics) *Writer {
	return New(f.path, f.table, f.queue, f.tracker, f.store, Options{PollInterval: 10 * time.Millisecond, Metrics: m})
}

func TestWriterCompletesOutOfOrder(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	w := f.writer(m)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	for _, i := range []int{2, 0, 1} {
		f.deliver(t, i)
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish")
	}

	got, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, f.data, got)

	_, err = os.Stat(metadata.MetadataPath(f.path))
	assert.True(t, os.IsNotExist(err), "metadata should be removed after success")
	assert.Equal(t, 1, f.sink.Count("success"))
	assert.Equal(t, 100, f.tracker.Percentage())
	for i := 0; i < f.table.Count(); i++ {
		c := f.table.Get(i)
		require.NotNil(t, c)
		assert.True(t, c.Completed())
		assert.Nil(t, c.Payload(), "payload should be released after write")
	}
}

func TestWriterCancelKeepsMetadata(t *testing.T) {
	f := newFixture(t)
	w := f.writer(nil)

	f.deliver(t, 0)
	cause := errors.New("mirror went away")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	err := w.Run(ctx)
	require.ErrorIs(t, err, cause)
	assert.Zero(t, f.sink.Count("success"))

	got, err := os.ReadFile(f.path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), testChunkSize)
	assert.Equal(t, f.data[:testChunkSize], got[:testChunkSize])

	reopened, err := metadata.Open(f.path, testFileSize, testChunkSize, output.NewRecorder())
	require.NoError(t, err)
	assert.False(t, reopened.FirstRun())
	assert.Equal(t, []int{0}, reopened.Load().CompletedIndices())
}

func TestWriterResumeDoesNotTruncate(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, 1)
	require.ErrorIs(t, f.writer(nil).Run(cancelled()), context.Canceled)

	// Second run sees chunk 1 already on disk.
	g := &fixture{path: f.path, data: f.data, sink: output.NewRecorder()}
	store, err := metadata.Open(g.path, testFileSize, testChunkSize, g.sink)
	require.NoError(t, err)
	g.store = store
	g.table = store.Load()
	require.Equal(t, []int{0, 2}, g.table.RemainingIndices())
	g.queue = chunk.NewQueue(g.table.Count())
	g.tracker = progress.New(testFileSize, g.table.CompletedBytes(), g.sink)

	done := make(chan error, 1)
	go func() { done <- g.writer(nil).Run(context.Background()) }()
	g.deliver(t, 0)
	g.deliver(t, 2)
	require.NoError(t, <-done)

	got, err := os.ReadFile(g.path)
	require.NoError(t, err)
	assert.Equal(t, f.data, got)
	assert.Equal(t, 1, g.sink.Count("success"))
}

func TestWriterPreallocate(t *testing.T) {
	f := newFixture(t)
	w := New(f.path, f.table, f.queue, f.tracker, f.store, Options{Preallocate: true, PollInterval: time.Millisecond})
	require.ErrorIs(t, w.Run(cancelled()), context.Canceled)
	info, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.EqualValues(t, testFileSize, info.Size())
}

func cancelled() context.Context {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(context.Canceled)
	return ctx
}

func TestWriterTruncatesLongerLeftoverFile(t *testing.T) {
	f := newFixture(t)
	stale := testutils.GenerateTestData(500000)
	for i := range stale {
		stale[i] ^= 0xff
	}
	require.NoError(t, os.WriteFile(f.path, stale, 0644))

	done := make(chan error, 1)
	go func() { done <- f.writer(nil).Run(context.Background()) }()
	for i := 0; i < f.table.Count(); i++ {
		f.deliver(t, i)
	}
	require.NoError(t, <-done)

	got, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, f.data, got)
}

func TestWriterFlushesPublishedButUnqueuedChunks(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, 0)
	// Chunk 2 is in the table but its fetcher never reached the queue.
	r, err := f.table.Range(2)
	require.NoError(t, err)
	f.table.Set(2, chunk.New(2, r, append([]byte(nil), f.data[r.Start:r.End+1]...)))

	require.ErrorIs(t, f.writer(nil).Run(cancelled()), context.Canceled)

	got, err := os.ReadFile(f.path)
	require.NoError(t, err)
	require.Len(t, got, testFileSize)
	assert.Equal(t, f.data[:testChunkSize], got[:testChunkSize])
	assert.Equal(t, f.data[r.Start:], got[r.Start:])

	reopened, err := metadata.Open(f.path, testFileSize, testChunkSize, output.NewRecorder())
	require.NoError(t, err)
	table := reopened.Load()
	assert.Equal(t, []int{0, 2}, table.CompletedIndices())
	assert.Equal(t, []int{1}, table.RemainingIndices())
}

type failingStore struct {
	err     error
	cleared bool
}

func (s *failingStore) Save(*chunk.Table) error { return s.err }

func (s *failingStore) Clear() error {
	s.cleared = true
	return nil
}

func TestWriterReturnsSaveFailure(t *testing.T) {
	f := newFixture(t)
	store := &failingStore{err: errors.New("disk full")}
	w := New(f.path, f.table, f.queue, f.tracker, store, Options{PollInterval: 10 * time.Millisecond})

	f.deliver(t, 0)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, store.err)
		assert.ErrorContains(t, err, "error saving metadata after chunk 0")
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop on save failure")
	}
	assert.False(t, store.cleared)
	assert.Zero(t, f.sink.Count("success"))
}

func TestWriterReturnsOpenFailure(t *testing.T) {
	f := newFixture(t)
	w := New(filepath.Join(f.path, "missing", "out.bin"), f.table, f.queue, f.tracker, f.store, Options{})
	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "error opening output file")
	assert.Zero(t, f.sink.Count("success"))
}
