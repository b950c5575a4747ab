package e2ee

import (
	"crypto/rand"
	"fmt"

	"github.com/dkeye/webcall/internal/domain"
)

// IVLength is the size of the GCM nonce appended to every sealed frame.
const IVLength = 12

// TransformFunc rewrites one encoded frame.
type TransformFunc func(domain.EncodedFrame) (domain.EncodedFrame, error)

// PlaintextPrefix is the number of leading bytes left unencrypted for a frame
// type. VP8 key frames need their 10-byte header readable, delta frames 3,
// audio 1.
func PlaintextPrefix(t domain.FrameType) int {
	switch t {
	case domain.FrameKey:
		return 10
	case domain.FrameDelta:
		return 3
	default:
		return 1
	}
}

// EncryptFrame returns a transform sealing frames as prefix ∥ ciphertext ∥ IV.
// A frame with nothing after the prefix is emitted as prefix ∥ IV.
func EncryptFrame(key *Key) TransformFunc {
	return func(f domain.EncodedFrame) (domain.EncodedFrame, error) {
		n := min(PlaintextPrefix(f.Type), len(f.Data))

		iv := make([]byte, IVLength)
		if _, err := rand.Read(iv); err != nil {
			return f, fmt.Errorf("encrypt: iv: %w", err)
		}

		plain := f.Data[n:]
		out := make([]byte, 0, len(f.Data)+key.aead.Overhead()+IVLength)
		out = append(out, f.Data[:n]...)
		if len(plain) > 0 {
			out = key.aead.Seal(out, iv, plain, nil)
		}
		out = append(out, iv...)

		f.Data = out
		return f, nil
	}
}

// DecryptFrame returns the inverse of EncryptFrame. Every successfully opened
// frame is reported to the mute detector, when one is given.
func DecryptFrame(key *Key, mute *MuteDetector) TransformFunc {
	return func(f domain.EncodedFrame) (domain.EncodedFrame, error) {
		size := len(f.Data)
		if size < IVLength {
			return f, fmt.Errorf("decrypt: %w: %d bytes", ErrFrameTooShort, size)
		}
		n := min(PlaintextPrefix(f.Type), size-IVLength)
		sealed := f.Data[n : size-IVLength]
		iv := f.Data[size-IVLength:]

		out := make([]byte, n, size)
		copy(out, f.Data[:n])
		if len(sealed) > 0 {
			var err error
			out, err = key.aead.Open(out, iv, sealed, nil)
			if err != nil {
				return f, fmt.Errorf("decrypt: %w: %v", ErrDecrypt, err)
			}
		}

		f.Data = out
		if mute != nil {
			mute.Frame()
		}
		return f, nil
	}
}
