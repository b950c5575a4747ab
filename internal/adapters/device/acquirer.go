// Package device provides capture tracks backed by media files.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

var ErrDeviceUnavailable = errors.New("device not available")

// Config names the files standing in for each device. An empty path means
// the device is missing.
type Config struct {
	Mic               string `mapstructure:"mic"`
	CameraUser        string `mapstructure:"camera_user"`
	CameraEnvironment string `mapstructure:"camera_environment"`
	Screen            string `mapstructure:"screen"`
}

// FileAcquirer opens Ogg/Opus files as microphones and IVF/VP8 files as
// cameras and screens.
type FileAcquirer struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger
}

type Option func(*FileAcquirer)

func WithClock(clk clock.Clock) Option {
	return func(a *FileAcquirer) { a.clock = clk }
}

func NewFileAcquirer(cfg Config, opts ...Option) *FileAcquirer {
	a := &FileAcquirer{
		cfg:   cfg,
		clock: clock.New(),
		log:   log.With().Str("module", "adapters.device").Logger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *FileAcquirer) cameraPath(facing domain.VideoCamera) string {
	if facing == domain.CameraEnvironment && a.cfg.CameraEnvironment != "" {
		return a.cfg.CameraEnvironment
	}
	return a.cfg.CameraUser
}

func (a *FileAcquirer) open(kind domain.MediaKind, label, path string, open opener) (core.LocalTrack, error) {
	if path == "" {
		return nil, fmt.Errorf("%s: %w", label, ErrDeviceUnavailable)
	}
	t, err := newFileTrack(kind, label, path, open, a.clock, a.log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	a.log.Info().Str("device", label).Str("track", t.ID()).Str("path", path).Msg("device opened")
	return t, nil
}

// GetUserMedia opens the requested mic and camera. Either both open or
// neither does.
func (a *FileAcquirer) GetUserMedia(ctx context.Context, c core.Constraints) ([]core.LocalTrack, error) {
	var tracks []core.LocalTrack
	fail := func(err error) ([]core.LocalTrack, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}
	if c.Mic {
		t, err := a.open(domain.KindAudio, "mic", a.cfg.Mic, openOgg)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, t)
	}
	if c.Camera {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		facing := c.Facing
		if !facing.Valid() {
			facing = domain.CameraUser
		}
		t, err := a.open(domain.KindVideo, "camera-"+string(facing), a.cameraPath(facing), openIVF)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (a *FileAcquirer) GetDisplayMedia(ctx context.Context) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := a.open(domain.KindVideo, "screen", a.cfg.Screen, openIVF)
	if err != nil {
		return nil, err
	}
	return []core.LocalTrack{t}, nil
}
