package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aicamera/circle-detection-service/detections"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yaml"

	ModeONNX     = "onnx"
	ModeFallback = "fallback"

	envPrefix = "CIRCLEDET_"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Pool     PoolConfig     `yaml:"pool"`
	Detector DetectorConfig `yaml:"detector"`
	Capture  CaptureConfig  `yaml:"capture"`
	Log      LogConfig      `yaml:"log"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
	// Preload reads the model file once and builds every pooled session
	// from memory.
	Preload       bool     `yaml:"preload"`
	InputSize     int      `yaml:"inputSize"`
	ConfThreshold float32  `yaml:"confThreshold"`
	NMSThreshold  float32  `yaml:"nmsThreshold"`
	ClassNames    []string `yaml:"classNames"`
}

// RuntimeConfig locates the onnxruntime shared library. An empty
// LibraryPath keeps the loader's default search.
type RuntimeConfig struct {
	LibraryPath    string `yaml:"libraryPath"`
	IntraOpThreads int    `yaml:"intraOpThreads"`
	InterOpThreads int    `yaml:"interOpThreads"`
}

type PoolConfig struct {
	Size              int           `yaml:"size"`
	AcquireTimeout    time.Duration `yaml:"acquireTimeout"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
}

type DetectorConfig struct {
	// Mode is "onnx" or "fallback".
	Mode string `yaml:"mode"`
}

type CaptureConfig struct {
	SnapshotURL string        `yaml:"snapshotURL"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MonitorConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ProcessStatsInterval time.Duration `yaml:"processStatsInterval"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
		Model: ModelConfig{
			Path:          "models/circles.onnx",
			Preload:       true,
			InputSize:     detections.DefaultInputSize,
			ConfThreshold: detections.DefaultConfThreshold,
			NMSThreshold:  detections.DefaultNMSThreshold,
			ClassNames:    append([]string(nil), detections.DefaultClassNames...),
		},
		Pool: PoolConfig{
			Size:              4,
			AcquireTimeout:    5 * time.Second,
			HealthCheckPeriod: 60 * time.Second,
		},
		Detector: DetectorConfig{Mode: ModeONNX},
		Capture:  CaptureConfig{Timeout: 5 * time.Second},
		Log:      LogConfig{Level: "info"},
		Monitor: MonitorConfig{
			Enabled:              true,
			ProcessStatsInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults, applies CIRCLEDET_* environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	lookup := func(key string) string { return getenv(envPrefix + key) }

	setString(&c.Model.Path, lookup("MODEL_PATH"))
	setString(&c.Runtime.LibraryPath, lookup("ORT_LIB"))
	setString(&c.Server.Addr, lookup("ADDR"))
	setString(&c.Detector.Mode, lookup("MODE"))
	setString(&c.Log.Level, lookup("LOG_LEVEL"))
	setString(&c.Capture.SnapshotURL, lookup("SNAPSHOT_URL"))
	setString(&c.Capture.Username, lookup("SNAPSHOT_USER"))
	setString(&c.Capture.Password, lookup("SNAPSHOT_PASSWORD"))

	if v := lookup("POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPOOL_SIZE: %w", envPrefix, err)
		}
		c.Pool.Size = n
	}
	if v := lookup("CONF_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%sCONF_THRESHOLD: %w", envPrefix, err)
		}
		c.Model.ConfThreshold = float32(f)
	}
	if v := lookup("NMS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%sNMS_THRESHOLD: %w", envPrefix, err)
		}
		c.Model.NMSThreshold = float32(f)
	}
	if v := lookup("CLASS_NAMES"); v != "" {
		var names []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		c.Model.ClassNames = names
	}

	if getenv("DEBUG") == "true" {
		c.Log.Development = true
		c.Log.Level = "debug"
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}
	switch c.Detector.Mode {
	case ModeONNX:
		if c.Model.Path == "" {
			return errors.New("model path is required in onnx mode")
		}
	case ModeFallback:
	default:
		return fmt.Errorf("unknown detector mode %q", c.Detector.Mode)
	}
	if c.Pool.Size < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.Pool.Size)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool acquire timeout must be positive, got %v", c.Pool.AcquireTimeout)
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	return nil
}

// PipelineConfig is the per-detector model configuration.
func (c *Config) PipelineConfig() detections.Config {
	return detections.Config{
		InputSize:     c.Model.InputSize,
		ConfThreshold: c.Model.ConfThreshold,
		NMSThreshold:  c.Model.NMSThreshold,
		ClassNames:    append([]string(nil), c.Model.ClassNames...),
	}
}

func (c *Config) EngineOptions() detections.EngineOptions {
	return detections.EngineOptions{
		IntraOpThreads: c.Runtime.IntraOpThreads,
		InterOpThreads: c.Runtime.InterOpThreads,
	}
}
