package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/webcall/internal/domain"
)

// Command and response type discriminators.
const (
	CmdCapabilities = "capabilities"
	CmdStart        = "start"
	CmdOffer        = "offer"
	CmdAnswer       = "answer"
	CmdICE          = "ice"
	CmdMedia        = "media"
	CmdCamera       = "camera"
	CmdDescription  = "description"
	CmdLayout       = "layout"
	CmdEnd          = "end"

	RespCapabilities = "capabilities"
	RespOffer        = "offer"
	RespAnswer       = "answer"
	RespICE          = "ice"
	RespConnection   = "connection"
	RespConnected    = "connected"
	RespPeerMedia    = "peerMedia"
	RespPermissions  = "permissions"
	RespEnded        = "ended"
	RespOk           = "ok"
	RespError        = "error"
)

// Command is one host request, already decoded from the wire.
type Command interface {
	CommandType() string
}

type CapabilitiesCommand struct {
	Media domain.CallMediaType
}

type StartCommand struct {
	Media      domain.CallMediaType
	AESKey     string
	ICEServers []webrtc.ICEServer
	Relay      bool
}

type OfferCommand struct {
	Offer         webrtc.SessionDescription
	ICECandidates []webrtc.ICECandidateInit
	Media         domain.CallMediaType
	AESKey        string
	ICEServers    []webrtc.ICEServer
	Relay         bool
}

type AnswerCommand struct {
	Answer        webrtc.SessionDescription
	ICECandidates []webrtc.ICECandidateInit
}

type ICECommand struct {
	ICECandidates []webrtc.ICECandidateInit
}

type MediaCommand struct {
	Source domain.MediaSource
	Enable bool
}

type CameraCommand struct {
	Camera domain.VideoCamera
}

type DescriptionCommand struct {
	State       string
	Description string
}

type LayoutCommand struct {
	Layout domain.LayoutType
}

type EndCommand struct{}

// UnknownCommand carries a type the engine does not implement.
type UnknownCommand struct {
	Type string
}

func (CapabilitiesCommand) CommandType() string { return CmdCapabilities }
func (StartCommand) CommandType() string        { return CmdStart }
func (OfferCommand) CommandType() string        { return CmdOffer }
func (AnswerCommand) CommandType() string       { return CmdAnswer }
func (ICECommand) CommandType() string          { return CmdICE }
func (MediaCommand) CommandType() string        { return CmdMedia }
func (CameraCommand) CommandType() string       { return CmdCamera }
func (DescriptionCommand) CommandType() string  { return CmdDescription }
func (LayoutCommand) CommandType() string       { return CmdLayout }
func (EndCommand) CommandType() string          { return CmdEnd }
func (c UnknownCommand) CommandType() string    { return c.Type }

// Response is a command result or an unsolicited event.
type Response interface {
	ResponseType() string
}

type CallCapabilities struct {
	Encryption bool `json:"encryption"`
}

type CapabilitiesResponse struct {
	Capabilities CallCapabilities
}

type OfferResponse struct {
	Offer         webrtc.SessionDescription
	ICECandidates []webrtc.ICECandidateInit
	Capabilities  CallCapabilities
}

type AnswerResponse struct {
	Answer        webrtc.SessionDescription
	ICECandidates []webrtc.ICECandidateInit
}

type ICEResponse struct {
	ICECandidates []webrtc.ICECandidateInit
}

type ConnectionResponse struct {
	State ConnectionState
}

type ConnectedResponse struct {
	ConnectionInfo ConnectionInfo
}

type PeerMediaResponse struct {
	Media   domain.CallMediaType
	Source  domain.MediaSource
	Enabled bool
}

// PermissionsResponse asks the host to tell the user a device could not be
// opened.
type PermissionsResponse struct {
	Media domain.CallMediaType
}

type EndedResponse struct{}

type OkResponse struct{}

type ErrorResponse struct {
	Message string
}

func (CapabilitiesResponse) ResponseType() string { return RespCapabilities }
func (OfferResponse) ResponseType() string        { return RespOffer }
func (AnswerResponse) ResponseType() string       { return RespAnswer }
func (ICEResponse) ResponseType() string          { return RespICE }
func (ConnectionResponse) ResponseType() string   { return RespConnection }
func (ConnectedResponse) ResponseType() string    { return RespConnected }
func (PeerMediaResponse) ResponseType() string    { return RespPeerMedia }
func (PermissionsResponse) ResponseType() string  { return RespPermissions }
func (EndedResponse) ResponseType() string        { return RespEnded }
func (OkResponse) ResponseType() string           { return RespOk }
func (ErrorResponse) ResponseType() string        { return RespError }

// EventSink receives unsolicited responses.
type EventSink interface {
	Emit(Response)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Response)

func (f EventSinkFunc) Emit(r Response) { f(r) }
