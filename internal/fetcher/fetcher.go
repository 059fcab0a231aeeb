package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/mirrordl/internal/chunk"
	"github.com/tanq16/mirrordl/internal/metrics"
	"github.com/tanq16/mirrordl/internal/utils"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrContentRange     = errors.New("bad Content-Range header")
	ErrTruncated        = errors.New("truncated response body")
)

// Error is a failed chunk fetch. Any Error aborts the whole job.
type Error struct {
	Index  int
	Mirror string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching chunk %d from %s: %v", e.Index, e.Mirror, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher downloads single chunks with HTTP range requests and hands them to
// the table and the write queue.
type Fetcher struct {
	client  utils.HTTPDoer
	mirrors []string
	table   *chunk.Table
	queue   *chunk.Queue
	metrics *metrics.Metrics
}

func New(client utils.HTTPDoer, mirrors []string, table *chunk.Table, queue *chunk.Queue, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		client:  client,
		mirrors: mirrors,
		table:   table,
		queue:   queue,
		metrics: m,
	}
}

// Mirror pins a pool worker to one mirror for its whole lifetime.
func (f *Fetcher) Mirror(workerID int) string {
	return f.mirrors[workerID%len(f.mirrors)]
}

func (f *Fetcher) Fetch(ctx context.Context, workerID, index int) error {
	mirror := f.Mirror(workerID)
	log := utils.LoggerFrom(ctx, "fetcher").With().Int("worker", workerID).Int("chunkId", index).Str("mirror", mirror).Logger()
	r, err := f.table.Range(index)
	if err != nil {
		return &Error{Index: index, Mirror: mirror, Err: err}
	}
	start := time.Now()
	payload, err := f.download(ctx, mirror, r, log)
	if err != nil {
		f.metrics.FetchFailed(mirror)
		log.Error().Err(err).Msg("Chunk fetch failed")
		return &Error{Index: index, Mirror: mirror, Err: err}
	}
	f.metrics.ChunkFetched(mirror, time.Since(start))

	c := chunk.New(index, r, payload)
	f.table.Set(index, c)
	f.queue.Push(c)
	log.Debug().Int64("size", r.Size()).Dur("elapsed", time.Since(start)).Msg("Chunk fetched")
	return nil
}

func (f *Fetcher) download(ctx context.Context, mirror string, r chunk.Range, log zerolog.Logger) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GET request: %w", err)
	}
	req.Header.Set("Range", r.Header())
	req.Header.Set("Connection", "keep-alive")
	log.Debug().Str("range", r.Header()).Msg("Sending range request")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), r); err != nil {
			return nil, err
		}
	case http.StatusOK:
		// Some servers answer a range covering the whole file with a plain 200.
		if r.Start != 0 || r.End != f.table.FileSize()-1 {
			return nil, fmt.Errorf("%w: %d for a partial range", ErrUnexpectedStatus, resp.StatusCode)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	payload := make([]byte, r.Size())
	n, err := io.ReadFull(resp.Body, payload)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, r.Size())
		}
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return payload, nil
}

func checkContentRange(header string, r chunk.Range) error {
	if header == "" {
		return fmt.Errorf("%w: missing", ErrContentRange)
	}
	var start, end int64
	var total string
	if _, err := fmt.Sscanf(header, "bytes %d-%d/%s", &start, &end, &total); err != nil {
		return fmt.Errorf("%w: %q", ErrContentRange, header)
	}
	if start != r.Start || end != r.End {
		return fmt.Errorf("%w: got %d-%d, requested %s", ErrContentRange, start, end, r)
	}
	return nil
}
