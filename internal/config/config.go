package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is everything the client needs to run one capture/playback screen.
type Config struct {
	ServerURL  string `yaml:"server_url"`
	ListenAddr string `yaml:"listen_addr"` // local control API
	Dev        bool   `yaml:"dev"`         // development logger

	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Socket   SocketConfig   `yaml:"socket"`
}

type CaptureConfig struct {
	CameraDir   string        `yaml:"camera_dir"`
	Interval    time.Duration `yaml:"interval"`     // continuous cadence; 0 means single-shot only
	MinInterval time.Duration `yaml:"min_interval"` // throttle between captures
}

type PlaybackConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	AudioAsset    string        `yaml:"audio_asset"`
}

type SocketConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadLimit      int64         `yaml:"read_limit"`
}

func Default() Config {
	return Config{
		ServerURL:  "ws://localhost:8765/ws",
		ListenAddr: "127.0.0.1:8090",
		Capture: CaptureConfig{
			Interval:    200 * time.Millisecond,
			MinInterval: 33 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			FrameInterval: 33 * time.Millisecond,
		},
		Socket: SocketConfig{
			ReconnectDelay: 3 * time.Second,
			DialTimeout:    10 * time.Second,
			WriteTimeout:   3 * time.Second,
			ReadLimit:      8 << 20,
		},
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory, and LANDMARK_* environment variables, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("LANDMARK_SERVER_URL", &cfg.ServerURL)
	str("LANDMARK_LISTEN_ADDR", &cfg.ListenAddr)
	str("LANDMARK_CAMERA_DIR", &cfg.Capture.CameraDir)
	str("LANDMARK_REFERENCE_AUDIO", &cfg.Playback.AudioAsset)

	if v, ok := os.LookupEnv("LANDMARK_DEV"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LANDMARK_DEV: %w", err)
		}
		cfg.Dev = b
	}

	for key, dst := range map[string]*time.Duration{
		"LANDMARK_CAPTURE_INTERVAL":     &cfg.Capture.Interval,
		"LANDMARK_MIN_CAPTURE_INTERVAL": &cfg.Capture.MinInterval,
		"LANDMARK_PLAYBACK_INTERVAL":    &cfg.Playback.FrameInterval,
		"LANDMARK_RECONNECT_DELAY":      &cfg.Socket.ReconnectDelay,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks required fields and fills zero values that have a safe
// default.
func Validate(cfg *Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("server_url must be ws://, wss://, http:// or https://, got %q", u.Scheme)
	}

	if cfg.Capture.Interval < 0 {
		return fmt.Errorf("capture.interval must be >= 0")
	}
	if cfg.Capture.MinInterval < 0 {
		return fmt.Errorf("capture.min_interval must be >= 0")
	}
	if cfg.Capture.Interval > 0 && cfg.Capture.Interval < cfg.Capture.MinInterval {
		return fmt.Errorf("capture.interval (%s) is shorter than capture.min_interval (%s)",
			cfg.Capture.Interval, cfg.Capture.MinInterval)
	}

	if cfg.Playback.FrameInterval <= 0 {
		return fmt.Errorf("playback.frame_interval must be > 0")
	}
	if cfg.Socket.ReconnectDelay <= 0 {
		return fmt.Errorf("socket.reconnect_delay must be > 0")
	}

	if cfg.Socket.DialTimeout <= 0 {
		cfg.Socket.DialTimeout = 10 * time.Second
	}
	if cfg.Socket.WriteTimeout <= 0 {
		cfg.Socket.WriteTimeout = 3 * time.Second
	}
	if cfg.Socket.ReadLimit <= 0 {
		cfg.Socket.ReadLimit = 8 << 20
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8090"
	}
	return nil
}
