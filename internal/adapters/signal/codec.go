package signal

import (
	"encoding/json"
	"fmt"

	lzstring "github.com/daku10/go-lz-string"
)

// PayloadCodec turns SDP and candidate payloads into the strings carried on
// the bridge.
type PayloadCodec interface {
	Encode(v any) (string, error)
	Decode(s string, v any) error
}

// LZString compresses the JSON of a payload into LZString base64, matching
// compressToBase64 on the host side.
type LZString struct{}

func (LZString) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return lzstring.CompressToBase64(string(b))
}

func (LZString) Decode(s string, v any) error {
	raw, err := lzstring.DecompressFromBase64(s)
	if err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}
	if raw == "" && s != "" {
		return fmt.Errorf("decompress payload: %w", ErrBadPayload)
	}
	return json.Unmarshal([]byte(raw), v)
}

// RawJSON carries payloads as plain JSON strings.
type RawJSON struct{}

func (RawJSON) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (RawJSON) Decode(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

// CodecFor picks the payload codec for the compression setting.
func CodecFor(compress bool) PayloadCodec {
	if compress {
		return LZString{}
	}
	return RawJSON{}
}
