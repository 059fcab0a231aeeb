package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1", 1},
		{"64000", 64000},
		{"1MB", 1 << 20},
		{"512kb", 512 << 10},
		{"2G", 2 << 30},
		{" 4 M ", 4 << 20},
		{"100B", 100},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	for _, bad := range []string{"", "MB", "-1MB", "0", "1.5MB", "ten"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("http://example.com/file"))
	assert.True(t, IsURL("https://mirror.example.org:8443/a/b.iso"))
	assert.False(t, IsURL("ftp://example.com/file"))
	assert.False(t, IsURL("mirrors.txt"))
	assert.False(t, IsURL("http:///nohost"))
}

func TestReadMirrorListPlain(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mirrors.txt")
	content := "# primary\nhttp://a.example/f.bin\n\n  https://b.example/f.bin  \n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))

	mirrors, err := ReadMirrorList(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example/f.bin", "https://b.example/f.bin"}, mirrors)
}

func TestReadMirrorListYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mirrors.yaml")
	content := "mirrors:\n  - http://a.example/f.bin\n  - https://b.example/f.bin\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))

	mirrors, err := ReadMirrorList(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example/f.bin", "https://b.example/f.bin"}, mirrors)
}

func TestReadMirrorListErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadMirrorList(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("http://a.example/f\nnot a url\n"), 0644))
	_, err = ReadMirrorList(bad)
	assert.ErrorContains(t, err, "entry 2")

	broken := filepath.Join(dir, "broken.yml")
	require.NoError(t, os.WriteFile(broken, []byte("mirrors: [unterminated"), 0644))
	_, err = ReadMirrorList(broken)
	assert.Error(t, err)
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer x:y", "X-Empty:", "garbage"})
	assert.Equal(t, map[string]string{"Authorization": "Bearer x:y", "X-Empty": ""}, got)
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file.tar.gz")
	require.NoError(t, os.WriteFile(p, nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file.tar-(1).gz"), RenewOutputPath(p))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.tar-(1).gz"), nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file.tar-(2).gz"), RenewOutputPath(p))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KB", FormatBytes(1024))
	assert.Equal(t, "1.50 MB", FormatBytes(1536*1024))
}
