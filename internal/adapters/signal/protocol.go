package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

var (
	ErrBadPayload  = errors.New("bad payload")
	ErrMissingType = errors.New("command type missing")
	ErrBadRequest  = errors.New("invalid request")
)

// cmdAccept is the answering side's name for offer.
const cmdAccept = "accept"

// Request is a host call: {corrId, command}.
type Request struct {
	CorrID  *int64          `json:"corrId,omitempty"`
	Command json.RawMessage `json:"command"`
}

// Message is a response {corrId, resp, command} or an event {resp}.
type Message struct {
	CorrID  *int64          `json:"corrId,omitempty"`
	Resp    any             `json:"resp"`
	Command json.RawMessage `json:"command,omitempty"`
}

type wireCommand struct {
	Type          string               `json:"type"`
	Media         domain.CallMediaType `json:"media,omitempty"`
	AESKey        string               `json:"aesKey,omitempty"`
	ICEServers    []webrtc.ICEServer   `json:"iceServers,omitempty"`
	Relay         bool                 `json:"relay,omitempty"`
	Offer         string               `json:"offer,omitempty"`
	Answer        string               `json:"answer,omitempty"`
	ICECandidates string               `json:"iceCandidates,omitempty"`
	Source        domain.MediaSource   `json:"source,omitempty"`
	Enable        bool                 `json:"enable,omitempty"`
	Camera        domain.VideoCamera   `json:"camera,omitempty"`
	State         string               `json:"state,omitempty"`
	Description   string               `json:"description,omitempty"`
	Layout        domain.LayoutType    `json:"layout,omitempty"`
}

// Protocol converts between wire JSON and core commands and responses.
type Protocol struct {
	codec PayloadCodec
}

func NewProtocol(codec PayloadCodec) *Protocol {
	return &Protocol{codec: codec}
}

func (p *Protocol) candidates(s string) ([]webrtc.ICECandidateInit, error) {
	if s == "" {
		return nil, nil
	}
	var out []webrtc.ICECandidateInit
	if err := p.codec.Decode(s, &out); err != nil {
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	return out, nil
}

func (p *Protocol) description(s string) (webrtc.SessionDescription, error) {
	var d webrtc.SessionDescription
	if s == "" {
		return d, fmt.Errorf("session description: %w", ErrBadPayload)
	}
	if err := p.codec.Decode(s, &d); err != nil {
		return d, fmt.Errorf("session description: %w", err)
	}
	return d, nil
}

// DecodeCommand parses one command object. Unknown types decode to
// core.UnknownCommand so the controller can answer them.
func (p *Protocol) DecodeCommand(raw json.RawMessage) (core.Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	switch w.Type {
	case "":
		return nil, ErrMissingType
	case core.CmdCapabilities:
		return core.CapabilitiesCommand{Media: w.Media}, nil
	case core.CmdStart:
		return core.StartCommand{Media: w.Media, AESKey: w.AESKey, ICEServers: w.ICEServers, Relay: w.Relay}, nil
	case core.CmdOffer, cmdAccept:
		offer, err := p.description(w.Offer)
		if err != nil {
			return nil, err
		}
		cands, err := p.candidates(w.ICECandidates)
		if err != nil {
			return nil, err
		}
		return core.OfferCommand{
			Offer:         offer,
			ICECandidates: cands,
			Media:         w.Media,
			AESKey:        w.AESKey,
			ICEServers:    w.ICEServers,
			Relay:         w.Relay,
		}, nil
	case core.CmdAnswer:
		answer, err := p.description(w.Answer)
		if err != nil {
			return nil, err
		}
		cands, err := p.candidates(w.ICECandidates)
		if err != nil {
			return nil, err
		}
		return core.AnswerCommand{Answer: answer, ICECandidates: cands}, nil
	case core.CmdICE:
		cands, err := p.candidates(w.ICECandidates)
		if err != nil {
			return nil, err
		}
		return core.ICECommand{ICECandidates: cands}, nil
	case core.CmdMedia:
		src := w.Source
		// Older hosts name the media type instead of the source.
		if src == "" {
			src = domain.SourceMic
			if w.Media == domain.CallVideo {
				src = domain.SourceCamera
			}
		}
		return core.MediaCommand{Source: src, Enable: w.Enable}, nil
	case core.CmdCamera:
		return core.CameraCommand{Camera: w.Camera}, nil
	case core.CmdDescription:
		return core.DescriptionCommand{State: w.State, Description: w.Description}, nil
	case core.CmdLayout:
		return core.LayoutCommand{Layout: w.Layout}, nil
	case core.CmdEnd:
		return core.EndCommand{}, nil
	default:
		return core.UnknownCommand{Type: w.Type}, nil
	}
}

type wireResponse struct {
	Type           string                 `json:"type"`
	Capabilities   *core.CallCapabilities `json:"capabilities,omitempty"`
	Offer          string                 `json:"offer,omitempty"`
	Answer         string                 `json:"answer,omitempty"`
	ICECandidates  string                 `json:"iceCandidates,omitempty"`
	State          *core.ConnectionState  `json:"state,omitempty"`
	ConnectionInfo *core.ConnectionInfo   `json:"connectionInfo,omitempty"`
	Media          domain.CallMediaType   `json:"media,omitempty"`
	Source         domain.MediaSource     `json:"source,omitempty"`
	Enabled        *bool                  `json:"enabled,omitempty"`
	Message        string                 `json:"message,omitempty"`
}

// EncodeResponse renders a response in wire form.
func (p *Protocol) EncodeResponse(r core.Response) (any, error) {
	w := wireResponse{Type: r.ResponseType()}
	var err error
	switch r := r.(type) {
	case core.CapabilitiesResponse:
		w.Capabilities = &r.Capabilities
	case core.OfferResponse:
		w.Capabilities = &r.Capabilities
		if w.Offer, err = p.codec.Encode(r.Offer); err != nil {
			return nil, err
		}
		if w.ICECandidates, err = p.encodeCandidates(r.ICECandidates); err != nil {
			return nil, err
		}
	case core.AnswerResponse:
		if w.Answer, err = p.codec.Encode(r.Answer); err != nil {
			return nil, err
		}
		if w.ICECandidates, err = p.encodeCandidates(r.ICECandidates); err != nil {
			return nil, err
		}
	case core.ICEResponse:
		if w.ICECandidates, err = p.encodeCandidates(r.ICECandidates); err != nil {
			return nil, err
		}
	case core.ConnectionResponse:
		w.State = &r.State
	case core.ConnectedResponse:
		w.ConnectionInfo = &r.ConnectionInfo
	case core.PeerMediaResponse:
		w.Media, w.Source, w.Enabled = r.Media, r.Source, &r.Enabled
	case core.PermissionsResponse:
		w.Media = r.Media
	case core.ErrorResponse:
		w.Message = r.Message
	}
	return w, nil
}

func (p *Protocol) encodeCandidates(cs []webrtc.ICECandidateInit) (string, error) {
	if cs == nil {
		cs = []webrtc.ICECandidateInit{}
	}
	return p.codec.Encode(cs)
}
