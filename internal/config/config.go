package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/dkeye/webcall/internal/adapters/device"
	"github.com/dkeye/webcall/internal/adapters/rtc"
	"github.com/dkeye/webcall/internal/app/ice"
	"github.com/dkeye/webcall/internal/app/transform"
)

const envPrefix = "WEBCALL"

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	ice.Config        `mapstructure:",squash"`
	Servers           []ICEServer   `mapstructure:"servers"`
	Relay             bool          `mapstructure:"relay"`
	CandidatePoolSize uint8         `mapstructure:"candidate_pool_size"`
	WaitCap           time.Duration `mapstructure:"wait_cap"`
}

// WebRTCServers converts the configured servers to pion's form.
func (c ICEConfig) WebRTCServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.Servers))
	for _, s := range c.Servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

type CallConfig struct {
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	MuteTimeout   time.Duration `mapstructure:"mute_timeout"`
	UseWorker     bool          `mapstructure:"use_worker"`
	Compress      bool          `mapstructure:"compress"`
}

type Config struct {
	Mode               string        `mapstructure:"mode"`
	Port               int           `mapstructure:"port"`
	LogLevel           string        `mapstructure:"log_level"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	Secret             string        `mapstructure:"secret"`
	BridgeRateLimit    int           `mapstructure:"bridge_rate_limit"`
	BridgeRateInterval time.Duration `mapstructure:"bridge_rate_interval"`

	ICE      ICEConfig          `mapstructure:"ice"`
	Call     CallConfig         `mapstructure:"call"`
	Platform transform.Platform `mapstructure:"platform"`
	Devices  device.Config      `mapstructure:"devices"`
	RTC      rtc.Config         `mapstructure:"rtc"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("bridge_rate_limit", 10)
	v.SetDefault("bridge_rate_interval", "1m")

	iceDefaults := ice.DefaultConfig()
	v.SetDefault("ice.servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("ice.relay", false)
	v.SetDefault("ice.candidate_pool_size", 10)
	v.SetDefault("ice.delay", iceDefaults.Delay)
	v.SetDefault("ice.extras_interval", iceDefaults.ExtrasInterval)
	v.SetDefault("ice.extras_timeout", iceDefaults.ExtrasTimeout)
	v.SetDefault("ice.wait_cap", "10s")

	v.SetDefault("call.answer_timeout", "30s")
	v.SetDefault("call.mute_timeout", "3s")
	v.SetDefault("call.use_worker", true)
	v.SetDefault("call.compress", true)

	v.SetDefault("platform.insertable_streams", true)
	v.SetDefault("platform.script_transform", true)

	v.SetDefault("devices.mic", "")
	v.SetDefault("devices.camera_user", "")
	v.SetDefault("devices.camera_environment", "")
	v.SetDefault("devices.screen", "")

	rtcDefaults := rtc.DefaultConfig()
	v.SetDefault("rtc.disconnected_timeout", rtcDefaults.DisconnectedTimeout)
	v.SetDefault("rtc.failed_timeout", rtcDefaults.FailedTimeout)
	v.SetDefault("rtc.keepalive_interval", rtcDefaults.KeepAliveInterval)
	v.SetDefault("rtc.log_level", rtcDefaults.LogLevel)
}

// Load reads config/config.<CONFIG_ENV>.yaml. Missing files fall back to
// defaults; WEBCALL_* variables override both (WEBCALL_ICE_RELAY for
// ice.relay).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("Mode: %s | Port: %d | Compress: %t\n", cfg.Mode, cfg.Port, cfg.Call.Compress)
	return &cfg, nil
}
