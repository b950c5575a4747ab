package core

import (
	"context"

	"github.com/dkeye/webcall/internal/domain"
)

// FrameReader yields encoded frames: from the encoder on a sender, from the
// depacketizer on a receiver. It returns io.EOF once the stream has ended.
type FrameReader interface {
	ReadFrame(ctx context.Context) (domain.EncodedFrame, error)
}

// FrameWriter accepts frames on their way to the packetizer (sender) or
// decoder (receiver).
type FrameWriter interface {
	WriteFrame(domain.EncodedFrame) error
}

// Endpoint is an RTP sender or receiver that frames flow through.
type Endpoint interface {
	Kind() domain.MediaKind
}

// EncodedStreamsEndpoint can hand its frame streams out to the caller. Once
// taken, frames only move when the caller copies them from the reader to the
// writer.
type EncodedStreamsEndpoint interface {
	Endpoint
	EncodedStreams() (FrameReader, FrameWriter, error)
}

// ScriptTransformer receives an endpoint's streams once they are available.
type ScriptTransformer interface {
	Transform(readable FrameReader, writable FrameWriter)
}

// ScriptTransformEndpoint runs an attached transformer on its own streams.
type ScriptTransformEndpoint interface {
	Endpoint
	SetTransform(ScriptTransformer) error
}

// LocalTrack is a captured local media track.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(bool)
	// ReadFrame blocks for the next captured frame; io.EOF after Stop.
	ReadFrame(ctx context.Context) (domain.EncodedFrame, error)
	Stop()
}

// RemoteTrack is a track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() domain.MediaKind
}

// Constraints select the local devices to open.
type Constraints struct {
	Mic    bool
	Camera bool
	Facing domain.VideoCamera
}

// DeviceAcquirer opens local capture devices.
type DeviceAcquirer interface {
	GetUserMedia(ctx context.Context, c Constraints) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context) ([]LocalTrack, error)
}
