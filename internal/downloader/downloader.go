package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/mirrordl/internal/chunk"
	"github.com/tanq16/mirrordl/internal/fetcher"
	"github.com/tanq16/mirrordl/internal/metadata"
	"github.com/tanq16/mirrordl/internal/output"
	"github.com/tanq16/mirrordl/internal/progress"
	"github.com/tanq16/mirrordl/internal/utils"
	"github.com/tanq16/mirrordl/internal/writer"
)

// freeSpace reports the bytes available to an unprivileged user on the
// filesystem holding dir.
var freeSpace = func(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Download fetches the file served identically by every mirror in cfg and
// writes it to the resolved output path, resuming from an existing metadata
// file when there is one. The returned path is where the file lives.
func Download(ctx context.Context, cfg Config, sink output.Sink) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	runLog := zlog.With().Str("runId", uuid.NewString()).Logger()
	ctx = runLog.WithContext(ctx)
	log := utils.LoggerFrom(ctx, "downloader")
	cfg.HTTPClientConfig.HighThreadMode = cfg.Connections > 5
	client := utils.NewMirrorClient(cfg.HTTPClientConfig)

	info, err := probe(ctx, client, cfg.Mirrors[0])
	if err != nil {
		err = fmt.Errorf("error getting file info: %w", err)
		sink.Error("Could not query the first mirror", err)
		return "", err
	}
	outputPath, err := resolveOutputPath(cfg.OutputPath, info, cfg.Mirrors[0])
	if err != nil {
		sink.Error("Could not prepare the output file", err)
		return "", err
	}
	log = log.With().Str("output", outputPath).Int64("size", info.Size).Logger()
	log.Info().Int("mirrors", len(cfg.Mirrors)).Int("connections", cfg.Connections).Int64("chunkSize", cfg.ChunkSize).Msg("Starting download")
	sink.Init(filepath.Base(outputPath), len(cfg.Mirrors), cfg.Connections)

	if info.Size == 0 {
		return outputPath, downloadEmpty(outputPath, sink, log)
	}
	if err := checkDiskSpace(outputPath, info.Size, log); err != nil {
		sink.Error("Not enough disk space", err)
		return outputPath, err
	}

	store, err := metadata.Open(outputPath, info.Size, cfg.ChunkSize, sink)
	if err != nil {
		sink.Error("Could not open the metadata file", err)
		return outputPath, err
	}
	table := store.Load()
	if err := run(ctx, cfg, client, outputPath, table, store, sink, log); err != nil {
		log.Error().Err(err).Msg("Download failed")
		sink.Error("Download failed", err)
		return outputPath, err
	}
	log.Info().Msg("Download completed")
	return outputPath, nil
}

// run drives one job over a loaded table: a single writer goroutine plus a
// pool of fetch workers. The first failure cancels the pool; the writer is
// stopped only once every worker has returned, so nothing is published
// behind its final flush.
func run(ctx context.Context, cfg Config, client utils.HTTPDoer, outputPath string, table *chunk.Table, store *metadata.Store, sink output.Sink, log zerolog.Logger) error {
	fetchCtx, cancelFetch := context.WithCancelCause(ctx)
	defer cancelFetch(nil)
	writerCtx, stopWriter := context.WithCancelCause(zerolog.Ctx(ctx).WithContext(context.Background()))
	defer stopWriter(nil)

	tracker := progress.New(table.FileSize(), table.CompletedBytes(), sink)
	queue := chunk.NewQueue(table.Count())
	w := writer.New(outputPath, table, queue, tracker, store, writer.Options{
		PollInterval: cfg.PollInterval,
		Preallocate:  store.FirstRun() && cfg.Preallocate,
		Metrics:      cfg.Metrics,
	})
	writerDone := make(chan error, 1)
	go func() {
		err := w.Run(writerCtx)
		if err != nil {
			cancelFetch(err)
		}
		writerDone <- err
	}()

	remaining := table.RemainingIndices()
	log.Debug().Int("remaining", len(remaining)).Int("total", table.Count()).Msg("Chunks to fetch")
	f := fetcher.New(client, cfg.Mirrors, table, queue, cfg.Metrics)
	g, gctx := errgroup.WithContext(fetchCtx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for _, index := range remaining {
			select {
			case jobs <- index:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := range cfg.Connections {
		workerID := i
		g.Go(func() error {
			for index := range jobs {
				if err := f.Fetch(gctx, workerID, index); err != nil {
					return err
				}
			}
			return nil
		})
	}
	fetchErr := g.Wait()
	if fetchErr != nil {
		cancelFetch(fetchErr)
		stopWriter(context.Cause(fetchCtx))
	}
	writerErr := <-writerDone
	if fetchErr == nil && writerErr == nil {
		return nil
	}
	if cause := context.Cause(fetchCtx); cause != nil {
		return cause
	}
	if fetchErr != nil {
		return fetchErr
	}
	return writerErr
}

func downloadEmpty(outputPath string, sink output.Sink, log zerolog.Logger) error {
	f, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		err = fmt.Errorf("error creating output file: %w", err)
		sink.Error("Could not create the output file", err)
		return err
	}
	f.Close()
	metadata.Remove(outputPath)
	tracker := progress.New(0, 0, sink)
	tracker.OnSuccess()
	log.Info().Msg("Remote file is empty, nothing to fetch")
	return nil
}

func checkDiskSpace(outputPath string, fileSize int64, log zerolog.Logger) error {
	needed := fileSize
	if existing, err := os.Stat(outputPath); err == nil {
		needed -= min(existing.Size(), fileSize)
	}
	if needed <= 0 {
		return nil
	}
	dir := filepath.Dir(outputPath)
	free, err := freeSpace(dir)
	if err != nil {
		// Some filesystems cannot report usage.
		log.Warn().Err(err).Str("dir", dir).Msg("Could not check free disk space")
		return nil
	}
	if free < uint64(needed) {
		return fmt.Errorf("%w: need %s, have %s in %s", ErrInsufficientSpace, utils.FormatBytes(uint64(needed)), utils.FormatBytes(free), dir)
	}
	return nil
}
