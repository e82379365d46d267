package fetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingServer serves body for every request and counts hits.
func countingServer(t *testing.T, status int, body []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetch_DownloadsOnce(t *testing.T) {
	payload := []byte("SIMPLE  =                    T")
	srv, hits := countingServer(t, http.StatusOK, payload)

	dir := t.TempDir()
	f := New(dir, 5*time.Second, quietLogger())
	src := Source{Name: "img", URL: srv.URL + "/a.fits", Filename: "sub/a.fits"}

	path, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "a.fits"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(1), hits.Load())

	_, err = f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "cached file must not hit the network")
	assert.Equal(t, uint64(1), f.Stats.Downloaded.Load())
	assert.Equal(t, uint64(1), f.Stats.Skipped.Load())
	assert.Equal(t, uint64(len(payload)), f.Stats.Bytes.Load())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_ExistingFileNoRequest(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, []byte("x"))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.fits"), []byte("local"), 0644))

	f := New(dir, time.Second, quietLogger())
	path, err := f.Fetch(context.Background(), Source{Name: "a", URL: srv.URL, Filename: "a.fits"})
	require.NoError(t, err)
	assert.Zero(t, hits.Load())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local", string(got))
}

func TestFetch_EmptyFileIsRefetched(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, []byte("fresh"))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.fits"), nil, 0644))

	f := New(dir, time.Second, quietLogger())
	_, err := f.Fetch(context.Background(), Source{Name: "a", URL: srv.URL, Filename: "a.fits"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetch_Gunzip(t *testing.T) {
	payload := []byte("magnetogram pixels")
	srv, hits := countingServer(t, http.StatusOK, gzipBytes(t, payload))

	dir := t.TempDir()
	f := New(dir, time.Second, quietLogger())
	src := Source{Name: "gong", URL: srv.URL, Filename: "m.fits.gz", Gunzip: true}

	path, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "m.fits"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.FileExists(t, filepath.Join(dir, "m.fits.gz"))
	assert.Equal(t, uint64(1), f.Stats.Unzipped.Load())

	// Unzipped copy present: no request, no unzip.
	_, err = f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, uint64(1), f.Stats.Unzipped.Load())
}

func TestFetch_GzipPresentOnlyUnzips(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, []byte("unused"))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.fits.gz"), gzipBytes(t, []byte("abc")), 0644))

	f := New(dir, time.Second, quietLogger())
	path, err := f.Fetch(context.Background(), Source{Name: "gong", URL: srv.URL, Filename: "m.fits.gz", Gunzip: true})
	require.NoError(t, err)
	assert.Zero(t, hits.Load())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
	}{
		{"not found", http.StatusNotFound, []byte("missing")},
		{"server error", http.StatusInternalServerError, nil},
		{"empty body", http.StatusOK, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := countingServer(t, tt.status, tt.body)
			dir := t.TempDir()
			f := New(dir, time.Second, quietLogger())

			_, err := f.Fetch(context.Background(), Source{Name: "a", URL: srv.URL, Filename: "a.fits"})
			require.ErrorIs(t, err, common.ErrAcquisition)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "failed download must leave no files")
		})
	}
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := New(t.TempDir(), time.Second, quietLogger())
	_, err := f.Fetch(context.Background(), Source{Name: "a", URL: url, Filename: "a.fits"})
	require.ErrorIs(t, err, common.ErrAcquisition)
}

func TestFetch_CorruptGzip(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, []byte("not gzip at all"))
	f := New(t.TempDir(), time.Second, quietLogger())

	_, err := f.Fetch(context.Background(), Source{Name: "g", URL: srv.URL, Filename: "m.fits.gz", Gunzip: true})
	require.ErrorIs(t, err, common.ErrMalformedInput)
}

func TestFetch_CorruptGzipDownloadedAgain(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, []byte("not gzip at all"))
	dir := t.TempDir()
	f := New(dir, time.Second, quietLogger())
	src := Source{Name: "g", URL: srv.URL, Filename: "m.fits.gz", Gunzip: true}

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), src)
		require.ErrorIs(t, err, common.ErrMalformedInput)
		assert.NoFileExists(t, filepath.Join(dir, "m.fits.gz"))
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestFetch_CorruptGzipPresentIsKept(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, []byte("unused"))
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "m.fits.gz")
	require.NoError(t, os.WriteFile(gzPath, []byte("not gzip at all"), 0644))

	f := New(dir, time.Second, quietLogger())
	_, err := f.Fetch(context.Background(), Source{Name: "g", URL: srv.URL, Filename: "m.fits.gz", Gunzip: true})
	require.ErrorIs(t, err, common.ErrMalformedInput)
	assert.FileExists(t, gzPath)
	assert.Zero(t, hits.Load())
}

func TestFetchAll(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, time.Second, quietLogger())
	for _, src := range Sources {
		p := f.LocalPath(src)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("cached"), 0644))
	}

	paths, err := f.FetchAll(context.Background(), "aia_193", "gong_synoptic")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "imageResources", "Exercise_3", "aia_map.fits"), paths["aia_193"])
	assert.Equal(t, filepath.Join(dir, "190310t0014gong.fits"), paths["gong_synoptic"])
	assert.Zero(t, f.Stats.Requests.Load())

	_, err = f.FetchAll(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}
