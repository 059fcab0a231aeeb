package downloader

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tanq16/mirrordl/internal/metrics"
	"github.com/tanq16/mirrordl/internal/utils"
)

var (
	ErrNoMirrors          = errors.New("no mirrors given")
	ErrInvalidMirror      = errors.New("invalid mirror URL")
	ErrInvalidConnections = errors.New("connections must be at least 1")
	ErrInvalidChunkSize   = errors.New("chunk size must be at least 1 byte")
	ErrInsufficientSpace  = errors.New("insufficient disk space")
	ErrAlreadyExists      = errors.New("file already exists with same size")
)

type Config struct {
	Mirrors          []string
	Connections      int
	ChunkSize        int64
	OutputPath       string
	HTTPClientConfig utils.HTTPClientConfig
	PollInterval     time.Duration
	Preallocate      bool
	Metrics          *metrics.Metrics
}

// Validate rejects a config before any network or disk I/O happens.
func (c *Config) Validate() error {
	if len(c.Mirrors) == 0 {
		return ErrNoMirrors
	}
	for _, m := range c.Mirrors {
		parsedURL, err := url.Parse(m)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMirror, err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidMirror, parsedURL.Scheme, m)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("%w: missing host in %s", ErrInvalidMirror, m)
		}
	}
	if c.Connections < 1 {
		return ErrInvalidConnections
	}
	if c.ChunkSize < 1 {
		return ErrInvalidChunkSize
	}
	return nil
}
