// Package testutils provides range-capable HTTP test servers shared by the
// package tests.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GenerateTestData returns size bytes of a deterministic, non-repeating-ish pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*31 + i/256) % 251)
	}
	return data
}

// RangeServer serves one file with HEAD and Range GET support and records
// every range it was asked for.
type RangeServer struct {
	*httptest.Server
	Data []byte

	mu       sync.Mutex
	requests []string
	handler  func(w http.ResponseWriter, r *http.Request) bool
}

func StartRangeServer(t *testing.T, data []byte) *RangeServer {
	t.Helper()
	rs := &RangeServer{Data: data}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

// SetHandler installs h in front of the default GET handling; h returns
// true when it wrote the response itself.
func (rs *RangeServer) SetHandler(h func(w http.ResponseWriter, r *http.Request) bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.handler = h
}

// Requests returns the Range headers received, in arrival order.
func (rs *RangeServer) Requests() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.requests...)
}

func (rs *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	size := int64(len(rs.Data))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		return
	}

	rangeHeader := r.Header.Get("Range")
	rs.mu.Lock()
	rs.requests = append(rs.requests, rangeHeader)
	handler := rs.handler
	rs.mu.Unlock()
	if handler != nil && handler(w, r) {
		return
	}

	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(rs.Data)
		return
	}
	start, end, ok := ParseRange(rangeHeader)
	if !ok || start >= size {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(rs.Data[start : end+1])
}

// ParseRange reads a "bytes=start-end" header.
func ParseRange(header string) (int64, int64, bool) {
	parts := strings.Split(strings.TrimPrefix(header, "bytes="), "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}
