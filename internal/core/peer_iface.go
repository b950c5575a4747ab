package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/webcall/internal/domain"
)

// ConnectionState is the snapshot reported to the host on every change.
type ConnectionState struct {
	ConnectionState    string `json:"connectionState"`
	ICEConnectionState string `json:"iceConnectionState"`
	ICEGatheringState  string `json:"iceGatheringState"`
	SignalingState     string `json:"signalingState"`
}

type CandidateStats struct {
	ID            string `json:"id"`
	CandidateType string `json:"candidateType"`
	Protocol      string `json:"protocol"`
	Address       string `json:"address,omitempty"`
	Port          int    `json:"port,omitempty"`
	RelayProtocol string `json:"relayProtocol,omitempty"`
}

type CandidatePairStats struct {
	ID                   string  `json:"id"`
	LocalCandidateID     string  `json:"localCandidateId"`
	RemoteCandidateID    string  `json:"remoteCandidateId"`
	State                string  `json:"state"`
	Nominated            bool    `json:"nominated"`
	CurrentRoundTripTime float64 `json:"currentRoundTripTime"`
}

// ConnectionInfo describes the candidate pair a connected call settled on.
type ConnectionInfo struct {
	ICECandidatePair CandidatePairStats `json:"iceCandidatePair"`
	LocalCandidate   *CandidateStats    `json:"localCandidate,omitempty"`
	RemoteCandidate  *CandidateStats    `json:"remoteCandidate,omitempty"`
}

// Transceiver is one negotiated media slot.
type Transceiver interface {
	// Mid is empty until a description has been applied.
	Mid() string
	Kind() domain.MediaKind
	// SetSendRecv makes a remotely created transceiver send as well.
	SetSendRecv() error
	// ReplaceTrack swaps the outgoing track without renegotiation; nil
	// stops sending.
	ReplaceTrack(LocalTrack) error
	// PreferCodec moves the codec with the given mime type to the front.
	PreferCodec(mimeType string) error
	Sender() Endpoint
	Receiver() Endpoint
}

type PeerConfig struct {
	ICEServers        []webrtc.ICEServer
	Relay             bool
	CandidatePoolSize uint8
	// EncodedStreams makes senders and receivers expose their frames.
	EncodedStreams bool
}

// PeerConnection is the subset of a WebRTC peer connection a call needs.
type PeerConnection interface {
	AddTransceiver(kind domain.MediaKind) (Transceiver, error)
	Transceivers() []Transceiver

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error

	State() ConnectionState
	ConnectionInfo() (*ConnectionInfo, error)

	// OnICECandidate is called with nil once gathering is complete.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack, Transceiver))

	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(PeerConfig) (PeerConnection, error)
}
