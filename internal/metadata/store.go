package metadata

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tanq16/mirrordl/internal/chunk"
	"github.com/tanq16/mirrordl/internal/output"
	"github.com/tanq16/mirrordl/internal/utils"
)

const (
	Suffix     = ".mdl"
	CopySuffix = ".mdl.copy"
)

func MetadataPath(outputPath string) string {
	return outputPath + Suffix
}

// Store persists the chunk table's bitmap next to the output file. Saves go
// through a side file that is renamed over the canonical one.
type Store struct {
	outputPath string
	path       string
	copyPath   string
	totalSize  int64
	chunkSize  int64
	firstRun   bool
	sink       output.Sink
	log        zerolog.Logger
}

// Open checks for an existing metadata file for outputPath and creates an
// empty one when there is none, which marks the first run.
func Open(outputPath string, totalSize, chunkSize int64, sink output.Sink) (*Store, error) {
	s := &Store{
		outputPath: outputPath,
		path:       MetadataPath(outputPath),
		copyPath:   outputPath + CopySuffix,
		totalSize:  totalSize,
		chunkSize:  chunkSize,
		sink:       sink,
		log:        utils.GetLogger("metadata").With().Str("file", MetadataPath(outputPath)).Logger(),
	}
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		s.log.Debug().Msg("Existing metadata file found")
	case errors.Is(err, os.ErrNotExist):
		f, err := os.Create(s.path)
		if err != nil {
			return nil, fmt.Errorf("error creating metadata file: %w", err)
		}
		f.Close()
		s.firstRun = true
		s.log.Debug().Msg("Created empty metadata file")
	default:
		return nil, fmt.Errorf("error checking metadata file: %w", err)
	}
	return s, nil
}

func (s *Store) FirstRun() bool {
	return s.firstRun
}

func (s *Store) Path() string {
	return s.path
}

// Load rebuilds the chunk table from disk. An empty file yields a fresh
// table; unreadable or mismatched content is reported and also yields a
// fresh table, giving up on partial resume.
func (s *Store) Load() *chunk.Table {
	fresh := chunk.NewTable(s.totalSize, s.chunkSize)
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read metadata file")
		s.sink.Warning("Failed to read from the metadata file, starting over.", err)
		return fresh
	}
	if len(data) == 0 {
		s.log.Debug().Msg("Metadata file is empty, starting fresh")
		return fresh
	}
	snap, err := decode(data)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to decode metadata file")
		s.sink.Warning("Failed to read from the metadata file, starting over.", err)
		return fresh
	}
	if snap.FileSize != s.totalSize || snap.ChunkSize != s.chunkSize || len(snap.Bitmap) != fresh.Count() {
		err := fmt.Errorf("stored geometry %d/%d/%d does not match %d/%d/%d",
			snap.FileSize, snap.ChunkSize, len(snap.Bitmap), s.totalSize, s.chunkSize, fresh.Count())
		s.log.Warn().Err(err).Msg("Metadata belongs to a different download")
		s.sink.Warning("Metadata does not match the remote file, starting over.", err)
		return fresh
	}
	s.log.Debug().Int("completed", len(snap.Bitmap.Indices())).Int("total", len(snap.Bitmap)).Msg("Loaded snapshot")
	return chunk.NewTableFromSnapshot(snap.Bitmap, s.totalSize, s.chunkSize)
}

// Save writes the table's snapshot to the side file and renames it over the
// canonical file, so readers only ever see a complete snapshot.
func (s *Store) Save(t *chunk.Table) error {
	data, err := encode(chunk.Snapshot(t), s.totalSize, s.chunkSize)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.copyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating metadata side file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("error writing metadata side file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("error syncing metadata side file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing metadata side file: %w", err)
	}
	if err := os.Rename(s.copyPath, s.path); err != nil {
		return fmt.Errorf("error replacing metadata file: %w", err)
	}
	return nil
}

// Clear deletes the metadata once the download has succeeded.
func (s *Store) Clear() error {
	return Remove(s.outputPath)
}

// Remove deletes the metadata file and any leftover side file of outputPath.
func Remove(outputPath string) error {
	var errs []error
	for _, p := range []string{MetadataPath(outputPath), outputPath + CopySuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
