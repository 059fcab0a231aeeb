package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ChunkFetched("http://a", 10*time.Millisecond)
	m.ChunkFetched("http://a", 20*time.Millisecond)
	m.FetchFailed("http://b")
	m.ChunkWritten(128000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksFetched.WithLabelValues("http://a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("http://b")))
	assert.Equal(t, 128000.0, testutil.ToFloat64(m.bytesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunksWritten))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChunkFetched("x", time.Second)
		m.FetchFailed("x")
		m.ChunkWritten(1)
	})
}
