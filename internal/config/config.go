package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModelURL is the fixed address the analyzer fetches its classifier from.
const DefaultModelURL = "https://github.com/onnx/models/raw/main/validated/vision/classification/mobilenet/model/mobilenetv2-12.onnx"

const (
	DefaultPort            = 8080
	DefaultInputSize       = 224
	DefaultMaxUploadBytes  = 10 << 20
	DefaultMaxPixels       = 50_000_000
	DefaultDownloadTimeout = 2 * time.Minute
)

type Config struct {
	Port    int           `yaml:"port"`
	Model   ModelConfig   `yaml:"model"`
	Upload  UploadConfig  `yaml:"upload"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	RPC     RPCConfig     `yaml:"rpc"`
}

type ModelConfig struct {
	URL             string        `yaml:"url"`
	InputSize       int           `yaml:"inputSize"`
	Softmax         bool          `yaml:"softmax"`
	RuntimeLibrary  string        `yaml:"runtimeLibrary"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"maxBytes"`
	// MaxPixels bounds the decoded image size, width times height.
	MaxPixels int `yaml:"maxPixels"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RPCConfig controls the gRPC health endpoint; a zero port disables it.
type RPCConfig struct {
	HealthPort int `yaml:"healthPort"`
}

func Default() Config {
	return Config{
		Port: DefaultPort,
		Model: ModelConfig{
			URL:             DefaultModelURL,
			InputSize:       DefaultInputSize,
			Softmax:         true,
			DownloadTimeout: DefaultDownloadTimeout,
		},
		Upload:  UploadConfig{MaxBytes: DefaultMaxUploadBytes, MaxPixels: DefaultMaxPixels},
		Log:     LogConfig{Mode: "production"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads path over the defaults. A missing file is not an error. The returned
// warnings describe values that were replaced by defaults.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.normalize(), nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if u := os.Getenv("MODEL_URL"); u != "" {
		cfg.Model.URL = u
	}
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		cfg.Model.RuntimeLibrary = lib
	}
}

func (c *Config) normalize() []string {
	var warnings []string
	if c.Port <= 0 || c.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("invalid port %d, defaulting to %d", c.Port, DefaultPort))
		c.Port = DefaultPort
	}
	if c.Model.URL == "" {
		c.Model.URL = DefaultModelURL
	}
	if c.Model.InputSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid model.inputSize %d, defaulting to %d", c.Model.InputSize, DefaultInputSize))
		c.Model.InputSize = DefaultInputSize
	}
	if c.Model.DownloadTimeout <= 0 {
		c.Model.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.Upload.MaxBytes <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid upload.maxBytes %d, defaulting to %d", c.Upload.MaxBytes, DefaultMaxUploadBytes))
		c.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Upload.MaxPixels <= 0 {
		c.Upload.MaxPixels = DefaultMaxPixels
	}
	if c.Log.Mode != "production" && c.Log.Mode != "development" {
		warnings = append(warnings, fmt.Sprintf("unknown log.mode %q, defaulting to production", c.Log.Mode))
		c.Log.Mode = "production"
	}
	if c.RPC.HealthPort < 0 || c.RPC.HealthPort > 65535 {
		warnings = append(warnings, fmt.Sprintf("invalid rpc.healthPort %d, disabling gRPC health", c.RPC.HealthPort))
		c.RPC.HealthPort = 0
	}
	return warnings
}
