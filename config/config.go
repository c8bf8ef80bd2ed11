package config

import (
	"math"
	"os"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
)

type Config struct {
	ModelPath     string
	LibraryPath   string
	Addr          string
	ConfThreshold float64
	Strategy      string
	TempDir       string
	Threads       int
	LogFile       string
	Debug         bool
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ModelPath:   getEnv("LAYOUT_MODEL_PATH", "models/PP-DocLayout-L.onnx"),
		LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
		Addr:        getEnv("LAYOUT_ADDR", "127.0.0.1:8080"),
		Strategy:    getEnv("LAYOUT_SESSION_STRATEGY", "cold"),
		TempDir:     os.Getenv("LAYOUT_TMPDIR"),
		LogFile:     os.Getenv("LAYOUT_LOG_FILE"),
		Debug:       os.Getenv("DEBUG") == "true",
	}

	var err error
	if cfg.ConfThreshold, err = strconv.ParseFloat(getEnv("LAYOUT_CONF_THRESHOLD", "0.5"), 64); err != nil {
		return nil, errors.Wrap(err, "LAYOUT_CONF_THRESHOLD")
	}
	if cfg.Threads, err = strconv.Atoi(getEnv("LAYOUT_THREADS", strconv.Itoa(runtime.NumCPU()))); err != nil {
		return nil, errors.Wrap(err, "LAYOUT_THREADS")
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if math.IsNaN(c.ConfThreshold) || c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return errors.Errorf("confidence threshold %v is outside [0,1]", c.ConfThreshold)
	}
	switch c.Strategy {
	case "cold", "shared":
	default:
		return errors.Errorf("session strategy %q is not one of cold, shared", c.Strategy)
	}
	if c.Threads <= 0 {
		return errors.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
