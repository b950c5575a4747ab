package device

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/dkeye/webcall/internal/domain"
)

const (
	opusClockRate = 48000
	// defaultOggPage is used when a page carries no granule advance.
	defaultOggPage = 20 * time.Millisecond
	// defaultIVFFrame is used when the IVF timebase is unset.
	defaultIVFFrame = 33 * time.Millisecond
)

// frameSource yields the frames of one pass over a media file.
type frameSource interface {
	next() (domain.EncodedFrame, error)
	io.Closer
}

type opener func(path string) (frameSource, error)

// ivfSource reads VP8 frames from an IVF file.
type ivfSource struct {
	f        *os.File
	r        *ivfreader.IVFReader
	duration time.Duration
}

func openIVF(path string) (frameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, h, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ivf %s: %w", path, err)
	}
	if h.FourCC != "VP80" {
		_ = f.Close()
		return nil, fmt.Errorf("ivf %s: unsupported codec %q", path, h.FourCC)
	}
	d := defaultIVFFrame
	if h.TimebaseDenominator > 0 && h.TimebaseNumerator > 0 {
		d = time.Second * time.Duration(h.TimebaseNumerator) / time.Duration(h.TimebaseDenominator)
	}
	return &ivfSource{f: f, r: r, duration: d}, nil
}

func (s *ivfSource) next() (domain.EncodedFrame, error) {
	data, h, err := s.r.ParseNextFrame()
	if err != nil {
		return domain.EncodedFrame{}, err
	}
	return domain.EncodedFrame{
		Type:      domain.VP8FrameType(data),
		Data:      data,
		Timestamp: uint32(h.Timestamp),
		Duration:  s.duration,
	}, nil
}

func (s *ivfSource) Close() error { return s.f.Close() }

// oggSource reads Opus pages from an Ogg file.
type oggSource struct {
	f       *os.File
	r       *oggreader.OggReader
	granule uint64
}

func openOgg(path string) (frameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ogg %s: %w", path, err)
	}
	return &oggSource{f: f, r: r}, nil
}

var opusTags = []byte("OpusTags")

func (s *oggSource) next() (domain.EncodedFrame, error) {
	for {
		data, h, err := s.r.ParseNextPage()
		if err != nil {
			return domain.EncodedFrame{}, err
		}
		if bytes.HasPrefix(data, opusTags) {
			continue
		}
		d := defaultOggPage
		if h.GranulePosition > s.granule {
			d = time.Second * time.Duration(h.GranulePosition-s.granule) / opusClockRate
		}
		s.granule = h.GranulePosition
		return domain.EncodedFrame{
			Type:      domain.FrameEmpty,
			Data:      data,
			Timestamp: uint32(h.GranulePosition),
			Duration:  d,
		}, nil
	}
}

func (s *oggSource) Close() error { return s.f.Close() }
