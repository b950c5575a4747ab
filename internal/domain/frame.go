package domain

import "time"

type FrameType string

const (
	FrameKey   FrameType = "key"
	FrameDelta FrameType = "delta"
	// FrameEmpty marks audio frames, which carry no key/delta distinction.
	FrameEmpty FrameType = "empty"
)

// EncodedFrame is one encoded media frame travelling between the encoder and
// the packetizer (or depacketizer and decoder).
type EncodedFrame struct {
	Type      FrameType
	Data      []byte
	Timestamp uint32
	Duration  time.Duration
}

// VP8FrameType classifies a VP8 payload. The P bit (bit 0 of the first byte)
// is clear on key frames.
func VP8FrameType(data []byte) FrameType {
	if len(data) == 0 {
		return FrameDelta
	}
	if data[0]&0x01 == 0 {
		return FrameKey
	}
	return FrameDelta
}

// FrameTypeFor picks the frame type of a payload for the given media kind.
func FrameTypeFor(kind MediaKind, data []byte) FrameType {
	if kind == KindAudio {
		return FrameEmpty
	}
	return VP8FrameType(data)
}
