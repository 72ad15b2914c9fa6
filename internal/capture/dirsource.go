package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNoImages = errors.New("capture: no images in directory")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirSource replays the image files of a directory, in name order, at a
// fixed rate.
type DirSource struct {
	Dir  string
	FPS  float64
	Loop bool

	files [][]byte
	now   func() time.Time
}

// LoadDir reads every image file in dir into memory.
func LoadDir(dir string, fps float64, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, dir)
	}
	sort.Strings(names)

	src := &DirSource{Dir: dir, FPS: fps, Loop: loop, now: time.Now}
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("capture: read %s: %w", name, err)
		}
		src.files = append(src.files, b)
	}
	log.Info().Str("component", "capture").Str("dir", dir).Int("images", len(names)).Float64("fps", fps).Msg("image directory loaded")
	return src, nil
}

func (s *DirSource) Len() int { return len(s.files) }

// Run publishes frames into dst until ctx is done or, without Loop, the
// files are exhausted.
func (s *DirSource) Run(ctx context.Context, dst *LatestFrame) error {
	fps := s.FPS
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(s.files) {
			if !s.Loop {
				return nil
			}
			i = 0
		}
		dst.Publish(Frame{Data: s.files[i], CapturedAt: s.now()})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
