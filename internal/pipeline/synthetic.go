package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/common"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/fetch"
	"github.com/KI7MT/ki7mt-ai-lab-pfss/internal/solar"
)

// SyntheticEpoch is the observation time of the sample data set.
var SyntheticEpoch = time.Date(2019, 3, 10, 0, 14, 0, 0, time.UTC)

// WriteSynthetic places an offline stand-in for both catalogue inputs in
// the fetcher's cache: a bipolar synoptic magnetogram and a limb-darkened
// disk image. A following Run finds them cached and downloads nothing.
func WriteSynthetic(f *fetch.Fetcher, obsTime time.Time) error {
	mag := solar.NewCarringtonMap(180, 90, obsTime, solar.DipolePair(80, 0.45, 140, 0.3, 20, 12))
	img := solar.NewHelioprojectiveMap(256, obsTime, -7.2, 110)

	for name, m := range map[string]*solar.Map{MagnetogramSource: mag, ImageSource: img} {
		src, ok := fetch.Lookup(name)
		if !ok {
			return fmt.Errorf("%w: unknown source %q", common.ErrInvalidConfig, name)
		}
		path := f.LocalPath(src)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("%w: cannot create directory: %w", common.ErrAcquisition, err)
		}
		if err := solar.SaveFITS(path, m); err != nil {
			return fmt.Errorf("%w: write %s: %w", common.ErrAcquisition, name, err)
		}
	}
	return nil
}
