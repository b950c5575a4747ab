// Package domain contains call entities without transport, just meta-data
package domain

// SlotTableVersion identifies the transceiver ordering below. Both peers must
// agree on it; bump it whenever the order changes.
const SlotTableVersion = 1

type MediaSource string

const (
	SourceMic         MediaSource = "mic"
	SourceCamera      MediaSource = "camera"
	SourceScreenAudio MediaSource = "screenAudio"
	SourceScreenVideo MediaSource = "screenVideo"
	SourceUnknown     MediaSource = "unknown"
)

// slotOrder is the transceiver ordering shared by both peers.
var slotOrder = [...]MediaSource{SourceMic, SourceCamera, SourceScreenAudio, SourceScreenVideo}

// SlotCount is the number of transceivers every call negotiates.
const SlotCount = len(slotOrder)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

type CallMediaType string

const (
	CallAudio CallMediaType = "audio"
	CallVideo CallMediaType = "video"
)

type VideoCamera string

const (
	CameraUser        VideoCamera = "user"
	CameraEnvironment VideoCamera = "environment"
)

type LayoutType string

const (
	LayoutDefault     LayoutType = "default"
	LayoutLocalVideo  LayoutType = "localVideo"
	LayoutRemoteVideo LayoutType = "remoteVideo"
)

// SourceForSlot maps a transceiver ordinal to its media source.
func SourceForSlot(slot int) MediaSource {
	if slot < 0 || slot >= len(slotOrder) {
		return SourceUnknown
	}
	return slotOrder[slot]
}

// SlotForSource is the inverse of SourceForSlot.
func SlotForSource(s MediaSource) (int, bool) {
	for i, src := range slotOrder {
		if src == s {
			return i, true
		}
	}
	return -1, false
}

// SourceForMid maps a negotiated mid ("0".."3") to its media source.
func SourceForMid(mid string) MediaSource {
	if len(mid) != 1 || mid[0] < '0' || mid[0] > '9' {
		return SourceUnknown
	}
	return SourceForSlot(int(mid[0] - '0'))
}

// MidForSlot is the mid string of the transceiver at the given ordinal.
func MidForSlot(slot int) string {
	return string(rune('0' + slot))
}

func (s MediaSource) Valid() bool {
	_, ok := SlotForSource(s)
	return ok
}

func (s MediaSource) Kind() MediaKind {
	switch s {
	case SourceCamera, SourceScreenVideo:
		return KindVideo
	default:
		return KindAudio
	}
}

func (s MediaSource) IsScreen() bool {
	return s == SourceScreenAudio || s == SourceScreenVideo
}

func (c CallMediaType) Valid() bool { return c == CallAudio || c == CallVideo }

func (c VideoCamera) Valid() bool { return c == CameraUser || c == CameraEnvironment }

func (l LayoutType) Valid() bool {
	return l == LayoutDefault || l == LayoutLocalVideo || l == LayoutRemoteVideo
}

// MediaSources holds one flag per source. A flag is true iff a live,
// unmuted track exists for that source.
type MediaSources struct {
	Mic         bool `json:"mic"`
	Camera      bool `json:"camera"`
	ScreenAudio bool `json:"screenAudio"`
	ScreenVideo bool `json:"screenVideo"`
}

func (m *MediaSources) Get(s MediaSource) bool {
	switch s {
	case SourceMic:
		return m.Mic
	case SourceCamera:
		return m.Camera
	case SourceScreenAudio:
		return m.ScreenAudio
	case SourceScreenVideo:
		return m.ScreenVideo
	}
	return false
}

func (m *MediaSources) Set(s MediaSource, on bool) {
	switch s {
	case SourceMic:
		m.Mic = on
	case SourceCamera:
		m.Camera = on
	case SourceScreenAudio:
		m.ScreenAudio = on
	case SourceScreenVideo:
		m.ScreenVideo = on
	}
}

func (m MediaSources) HasVideo() bool { return m.Camera || m.ScreenVideo }

// MediaType is video iff any video source is on.
func (m MediaSources) MediaType() CallMediaType {
	if m.HasVideo() {
		return CallVideo
	}
	return CallAudio
}
