// Package fetch downloads the pipeline's raster inputs into a local cache.
//
// A source is fetched at most once: if the final file already exists and is
// non-empty the fetch is a no-op and performs no network request. Downloads
// go to a temp file and are renamed into place, so an interrupted transfer
// never leaves a truncated raster behind.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// Source defines a remote raster input
type Source struct {
	Name     string
	URL      string
	Filename string // path relative to the cache directory
	Desc     string
	Gunzip   bool // Filename is a .gz that is unpacked next to itself
}

// Sources is the built-in sample data catalogue.
var Sources = []Source{
	{
		Name:     "aia_193",
		URL:      "http://jsoc2.stanford.edu/data/aia/synoptic/2019/03/10/H0000/AIA20190310_0000_0193.fits",
		Filename: "imageResources/Exercise_3/aia_map.fits",
		Desc:     "SDO/AIA 193A synoptic image, 2019-03-10 00:00 UT",
	},
	{
		Name:     "gong_synoptic",
		URL:      "https://gong2.nso.edu/oQR/zqs/201903/mrzqs190310/mrzqs190310t0014c2215_333.fits.gz",
		Filename: "190310t0014gong.fits.gz",
		Desc:     "GONG zero-point corrected synoptic magnetogram, CR2215",
		Gunzip:   true,
	},
}

// Lookup finds a catalogue source by name.
func Lookup(name string) (Source, bool) {
	for _, s := range Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// Stats counts fetch outcomes.
type Stats struct {
	Downloaded atomic.Uint64
	Skipped    atomic.Uint64
	Unzipped   atomic.Uint64
	Requests   atomic.Uint64
	Bytes      atomic.Uint64
}

// Fetcher resolves sources to local files under Dir.
type Fetcher struct {
	Dir     string
	Client  *http.Client
	Timeout time.Duration
	Stats   *Stats
	Logger  *slog.Logger
}

// New creates a fetcher caching into dir with a per-request timeout.
func New(dir string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		Dir:     dir,
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
		Stats:   &Stats{},
		Logger:  logger,
	}
}

// LocalPath returns where the usable (unzipped) raster for src lives.
func (f *Fetcher) LocalPath(src Source) string {
	name := src.Filename
	if src.Gunzip {
		name = strings.TrimSuffix(name, ".gz")
	}
	return filepath.Join(f.Dir, name)
}

// Fetch makes src available locally and returns its path.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (string, error) {
	final := f.LocalPath(src)
	if exists(final) {
		f.Stats.Skipped.Add(1)
		f.Logger.Debug("cached", "source", src.Name, "path", final)
		return final, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", fmt.Errorf("%w: cannot create directory: %w", common.ErrAcquisition, err)
	}

	if !src.Gunzip {
		if err := f.download(ctx, src.URL, final); err != nil {
			return "", fmt.Errorf("[%s] %w", src.Name, err)
		}
		return final, nil
	}

	gzPath := filepath.Join(f.Dir, src.Filename)
	downloaded := false
	if !exists(gzPath) {
		if err := f.download(ctx, src.URL, gzPath); err != nil {
			return "", fmt.Errorf("[%s] %w", src.Name, err)
		}
		downloaded = true
	}
	if err := gunzipFile(gzPath, final); err != nil {
		// A bad archive we just fetched must not poison the cache.
		if downloaded {
			os.Remove(gzPath)
		}
		return "", fmt.Errorf("[%s] %w", src.Name, err)
	}
	f.Stats.Unzipped.Add(1)
	return final, nil
}

// FetchAll fetches the named sources in order, stopping at the first failure.
func (f *Fetcher) FetchAll(ctx context.Context, names ...string) (map[string]string, error) {
	paths := make(map[string]string, len(names))
	for _, name := range names {
		src, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown source %q", common.ErrInvalidConfig, name)
		}
		p, err := f.Fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		paths[name] = p
	}
	return paths, nil
}

func (f *Fetcher) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrAcquisition, err)
	}

	f.Stats.Requests.Add(1)
	f.Logger.Info("downloading", "url", url)
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: HTTP GET failed: %w", common.ErrAcquisition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d: %s", common.ErrAcquisition, resp.StatusCode, resp.Status)
	}

	// Create temp file
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create file failed: %w", common.ErrAcquisition, err)
	}

	n, err := io.Copy(out, resp.Body)
	out.Close()

	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: download failed: %w", common.ErrAcquisition, err)
	}
	if n == 0 {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: empty response body", common.ErrAcquisition)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename failed: %w", common.ErrAcquisition, err)
	}

	f.Stats.Bytes.Add(uint64(n))
	f.Stats.Downloaded.Add(1)
	f.Logger.Info("downloaded", "file", filepath.Base(destPath), "bytes", n)
	return nil
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrAcquisition, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("%w: gzip header: %w", common.ErrMalformedInput, err)
	}
	defer gz.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create file failed: %w", common.ErrAcquisition, err)
	}
	_, err = io.Copy(out, gz)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: gunzip failed: %w", common.ErrMalformedInput, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename failed: %w", common.ErrAcquisition, err)
	}
	return nil
}

// exists mirrors the archive downloader's skip rule: present and non-empty.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
