package call

import (
	"slices"

	"github.com/dkeye/webcall/internal/domain"
)

type track interface {
	ID() string
	Kind() domain.MediaKind
}

// Stream is a mutable track container. Tracks come and go; the stream itself
// lives as long as its session.
type Stream[T track] struct {
	tracks []T
}

func (s *Stream[T]) Add(t T) {
	s.tracks = append(s.tracks, t)
}

func (s *Stream[T]) Remove(t T) {
	s.tracks = slices.DeleteFunc(s.tracks, func(x T) bool { return x.ID() == t.ID() })
}

func (s *Stream[T]) Tracks() []T {
	return slices.Clone(s.tracks)
}

func (s *Stream[T]) Clear() []T {
	old := s.tracks
	s.tracks = nil
	return old
}

func (s *Stream[T]) ofKind(kind domain.MediaKind) []T {
	var out []T
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream[T]) AudioTracks() []T { return s.ofKind(domain.KindAudio) }

func (s *Stream[T]) VideoTracks() []T { return s.ofKind(domain.KindVideo) }

func (s *Stream[T]) Len() int { return len(s.tracks) }
