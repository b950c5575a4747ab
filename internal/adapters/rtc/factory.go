package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

type Config struct {
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	// LogLevel filters pion's own logs.
	LogLevel string `mapstructure:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		LogLevel:            "warn",
	}
}

// codecSet lists the codecs every connection negotiates, per kind. VP8 comes
// first: the frame transforms assume its header layout.
func codecSet() map[domain.MediaKind][]webrtc.RTPCodecParameters {
	return map[domain.MediaKind][]webrtc.RTPCodecParameters{
		domain.KindAudio: {{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		}},
		domain.KindVideo: {
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
				PayloadType:        96,
			},
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0"},
				PayloadType:        98,
			},
		},
	}
}

// Factory builds pion peer connections sharing one configured API.
type Factory struct {
	api      *webrtc.API
	codecs   map[domain.MediaKind][]webrtc.RTPCodecParameters
	playback PlaybackFunc
}

type FactoryOption func(*Factory)

// WithPlayback receives the frames of every remote track.
func WithPlayback(fn PlaybackFunc) FactoryOption {
	return func(f *Factory) { f.playback = fn }
}

func NewFactory(cfg Config, opts ...FactoryOption) (*Factory, error) {
	codecs := codecSet()
	m := &webrtc.MediaEngine{}
	for kind, list := range codecs {
		for _, c := range list {
			if err := m.RegisterCodec(c, codecTypeOf(kind)); err != nil {
				return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
			}
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(level)
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	f := &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		codecs: codecs,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *Factory) NewPeerConnection(cfg core.PeerConfig) (core.PeerConnection, error) {
	wc := webrtc.Configuration{
		ICEServers:           cfg.ICEServers,
		ICECandidatePoolSize: cfg.CandidatePoolSize,
	}
	if cfg.Relay {
		wc.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	pc, err := f.api.NewPeerConnection(wc)
	if err != nil {
		return nil, err
	}
	return newConnection(f, pc, cfg.EncodedStreams), nil
}
