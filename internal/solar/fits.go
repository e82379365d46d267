package solar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
)

// structural cards are regenerated by the FITS encoder on write
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"NAXIS3": true, "EXTEND": true, "BSCALE": true, "BZERO": true, "END": true,
	"XTENSION": true, "PCOUNT": true, "GCOUNT": true, "COMMENT": true, "HISTORY": true,
}

// ReadFITS reads the first 2D image HDU of a FITS file. Paths ending in
// .gz are decompressed on the fly.
func ReadFITS(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip %s: %w", common.ErrMalformedInput, path, err)
		}
		defer gz.Close()
		r = gz
	}

	m, err := DecodeFITS(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// DecodeFITS decodes the first image HDU carrying 2D data.
func DecodeFITS(r io.Reader) (*Map, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%w: fits: %w", common.ErrMalformedInput, err)
	}
	defer ff.Close()

	for _, hdu := range ff.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		axes := img.Header().Axes()
		if len(axes) < 2 || axes[0]*axes[1] == 0 {
			continue
		}
		return decodeImage(img, axes)
	}
	return nil, fmt.Errorf("%w: no 2D image HDU", common.ErrMalformedInput)
}

func decodeImage(img fitsio.Image, axes []int) (*Map, error) {
	for _, extra := range axes[2:] {
		if extra != 1 {
			return nil, fmt.Errorf("%w: image has %d axes, want 2", common.ErrMalformedInput, len(axes))
		}
	}
	nx, ny := axes[0], axes[1]

	fh := img.Header()
	hdr := NewHeader()
	for _, key := range fh.Keys() {
		card := fh.Get(key)
		if card == nil || key == "" {
			continue
		}
		hdr.Set(key, card.Value)
	}

	raw, err := readPixels(img, nx*ny)
	if err != nil {
		return nil, fmt.Errorf("%w: read pixels: %w", common.ErrMalformedInput, err)
	}

	scale, ok := hdr.Float("BSCALE")
	if !ok {
		scale = 1
	}
	zero, _ := hdr.Float("BZERO")
	if scale != 1 || zero != 0 {
		for i := range raw {
			raw[i] = raw[i]*scale + zero
		}
	}

	return NewMap(nx, ny, raw, hdr)
}

// readPixels reads n pixels in the image's native BITPIX type and widens
// them to float64. fitsio fills a pre-sized slice whose element size
// matches |BITPIX|/8.
func readPixels(img fitsio.Image, n int) ([]float64, error) {
	switch bitpix := img.Header().Bitpix(); bitpix {
	case 8:
		return readAs[uint8](img, n)
	case 16:
		return readAs[int16](img, n)
	case 32:
		return readAs[int32](img, n)
	case 64:
		return readAs[int64](img, n)
	case -32:
		return readAs[float32](img, n)
	case -64:
		buf := make([]float64, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
}

func readAs[T uint8 | int16 | int32 | int64 | float32](img fitsio.Image, n int) ([]float64, error) {
	buf := make([]T, n)
	if err := img.Read(&buf); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

// WriteFITS encodes m as a single BITPIX=-64 primary image.
func WriteFITS(w io.Writer, m *Map) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}

	img := fitsio.NewImage(-64, []int{m.NX, m.NY})
	defer img.Close()

	var cards []fitsio.Card
	for _, key := range m.Header.Keys() {
		if structural[key] {
			continue
		}
		v, _ := m.Header.Get(key)
		cards = append(cards, fitsio.Card{Name: key, Value: v})
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("fits header: %w", err)
	}
	if err := img.Write(m.Data); err != nil {
		return fmt.Errorf("fits pixels: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("fits write: %w", err)
	}
	return f.Close()
}

// SaveFITS writes m to path via a temp file and atomic rename.
func SaveFITS(path string, m *Map) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file failed: %w", err)
	}
	bw := bufio.NewWriter(f)
	err = WriteFITS(bw, m)
	if err == nil {
		err = bw.Flush()
	}
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}
