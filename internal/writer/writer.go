package writer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/mirrordl/internal/chunk"
	"github.com/tanq16/mirrordl/internal/metrics"
	"github.com/tanq16/mirrordl/internal/utils"
)

// Tracker is the part of the progress tracker the writer drives.
type Tracker interface {
	AddCompletedBytes(n int64)
	IsComplete() bool
	OnSuccess()
}

// Store is the part of the metadata store the writer drives.
type Store interface {
	Save(t *chunk.Table) error
	Clear() error
}

type Options struct {
	PollInterval time.Duration
	// Preallocate extends a fresh output file to its final size up front.
	Preallocate bool
	Metrics     *metrics.Metrics
}

// Writer is the only owner of the output file. It drains the queue, writes
// every chunk at its own offset and persists progress after each write.
type Writer struct {
	mu         sync.Mutex
	outputPath string
	file       *os.File
	table      *chunk.Table
	queue      *chunk.Queue
	tracker    Tracker
	store      Store
	opts       Options
	log        zerolog.Logger
}

func New(outputPath string, table *chunk.Table, queue *chunk.Queue, tracker Tracker, store Store, opts Options) *Writer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = utils.DefaultPollInterval
	}
	return &Writer{
		outputPath: outputPath,
		table:      table,
		queue:      queue,
		tracker:    tracker,
		store:      store,
		opts:       opts,
		log:        utils.GetLogger("writer").With().Str("file", outputPath).Logger(),
	}
}

func (w *Writer) open() error {
	f, err := os.OpenFile(w.outputPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error opening output file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("error checking output file: %w", err)
	}
	// A longer file is left over from another download; its tail would
	// survive every offset write.
	if info.Size() > w.table.FileSize() || (w.opts.Preallocate && info.Size() < w.table.FileSize()) {
		if err := f.Truncate(w.table.FileSize()); err != nil {
			f.Close()
			return fmt.Errorf("error sizing output file: %w", err)
		}
		w.log.Debug().Int64("from", info.Size()).Int64("to", w.table.FileSize()).Msg("Output file resized")
	}
	w.file = f
	return nil
}

// Run writes chunks until every byte is on disk, then closes the file,
// clears the metadata and reports success. Cancelling ctx stops the writer:
// every fetched chunk still in memory is flushed and the cancellation cause
// is returned with the metadata left in place for a later resume. Producers
// must be stopped before ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	w.log = utils.LoggerFrom(ctx, "writer").With().Str("file", w.outputPath).Logger()
	if err := w.open(); err != nil {
		return err
	}
	for !w.tracker.IsComplete() {
		c, ok := w.queue.Pop(ctx, w.opts.PollInterval)
		if ok {
			if err := w.write(c); err != nil {
				w.close()
				return err
			}
			continue
		}
		if ctx.Err() != nil {
			return w.abort(ctx)
		}
	}
	w.log.Debug().Msg("All chunks written, finalizing")
	if err := w.close(); err != nil {
		return err
	}
	if err := w.store.Clear(); err != nil {
		return fmt.Errorf("error clearing metadata: %w", err)
	}
	w.tracker.OnSuccess()
	return nil
}

func (w *Writer) abort(ctx context.Context) error {
	flushed := 0
	for {
		c, ok := w.queue.TryPop()
		if !ok {
			break
		}
		if err := w.write(c); err != nil {
			w.close()
			return err
		}
		flushed++
	}
	// Chunks published to the table but never queued still hold their payload.
	for i := 0; i < w.table.Count(); i++ {
		c := w.table.Get(i)
		if c == nil || c.Completed() {
			continue
		}
		if err := w.write(c); err != nil {
			w.close()
			return err
		}
		flushed++
	}
	w.log.Debug().Int("flushed", flushed).Msg("Job cancelled, writer stopping")
	if err := w.close(); err != nil {
		return err
	}
	return context.Cause(ctx)
}

// write is one critical section: place the payload, account for it, free it
// and persist the new snapshot.
func (w *Writer) write(c *chunk.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	payload := c.Payload()
	if int64(len(payload)) != c.Size() {
		return fmt.Errorf("chunk %d has %d bytes, expected %d", c.ID, len(payload), c.Size())
	}
	if _, err := w.file.WriteAt(payload, c.Range.Start); err != nil {
		return fmt.Errorf("error writing chunk %d to output file: %w", c.ID, err)
	}
	w.tracker.AddCompletedBytes(int64(len(payload)))
	c.MarkCompleted()
	c.Release()
	w.opts.Metrics.ChunkWritten(int64(len(payload)))
	if err := w.store.Save(w.table); err != nil {
		return fmt.Errorf("error saving metadata after chunk %d: %w", c.ID, err)
	}
	w.log.Debug().Int("chunkId", c.ID).Str("range", c.Range.String()).Msg("Chunk written")
	return nil
}

func (w *Writer) close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("error syncing output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	return nil
}
