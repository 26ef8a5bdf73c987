package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEBUG", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 320, cfg.Model.InputSize)
	assert.Equal(t, float32(0.1), cfg.Model.ConfThreshold)
	assert.Equal(t, float32(0.48), cfg.Model.NMSThreshold)
	assert.Equal(t, []string{"ROI", "RedCenter"}, cfg.Model.ClassNames)
	assert.Equal(t, ModeONNX, cfg.Detector.Mode)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
model:
  path: /srv/models/targets.onnx
  inputSize: 640
  confThreshold: 0.25
  classNames: [ring, bullseye, marker]
pool:
  size: 2
  acquireTimeout: 2s
detector:
  mode: fallback
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/srv/models/targets.onnx", cfg.Model.Path)
	assert.Equal(t, 640, cfg.Model.InputSize)
	assert.Equal(t, float32(0.25), cfg.Model.ConfThreshold)
	assert.Equal(t, float32(0.48), cfg.Model.NMSThreshold, "unset keys keep defaults")
	assert.Equal(t, []string{"ring", "bullseye", "marker"}, cfg.Model.ClassNames)
	assert.Equal(t, 2, cfg.Pool.Size)
	assert.Equal(t, 2*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, ModeFallback, cfg.Detector.Mode)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 640, pc.InputSize)
	assert.Equal(t, cfg.Model.ClassNames, pc.ClassNames)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "pool:\n  size: 2\n")
	t.Setenv("CIRCLEDET_POOL_SIZE", "6")
	t.Setenv("CIRCLEDET_MODE", "fallback")
	t.Setenv("CIRCLEDET_ORT_LIB", "/opt/ort/libonnxruntime.so")
	t.Setenv("CIRCLEDET_CONF_THRESHOLD", "0.3")
	t.Setenv("CIRCLEDET_CLASS_NAMES", "a, b ,c")
	t.Setenv("CIRCLEDET_SNAPSHOT_URL", "http://camera.local/snap.jpg")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pool.Size)
	assert.Equal(t, ModeFallback, cfg.Detector.Mode)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Runtime.LibraryPath)
	assert.InDelta(t, 0.3, cfg.Model.ConfThreshold, 1e-6)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Model.ClassNames)
	assert.Equal(t, "http://camera.local/snap.jpg", cfg.Capture.SnapshotURL)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("CIRCLEDET_POOL_SIZE", "many")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Model.ConfThreshold = 1.2 }},
		{"negative nms", func(c *Config) { c.Model.NMSThreshold = -1 }},
		{"zero input size", func(c *Config) { c.Model.InputSize = 0 }},
		{"no classes", func(c *Config) { c.Model.ClassNames = nil }},
		{"empty pool", func(c *Config) { c.Pool.Size = 0 }},
		{"unknown mode", func(c *Config) { c.Detector.Mode = "gpu" }},
		{"onnx without model", func(c *Config) { c.Model.Path = "" }},
		{"no acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = 0 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Detector.Mode = ModeFallback
	cfg.Model.Path = ""
	assert.NoError(t, cfg.Validate())
}
