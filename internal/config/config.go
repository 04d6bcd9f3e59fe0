// Package config provides configuration management for the teslacam agent.
// Configuration is loaded from an optional YAML file and environment
// variables, with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".teslacam"

	// Environment variable names
	EnvPort       = "TESLACAM_PORT"
	EnvLogLevel   = "TESLACAM_LOG_LEVEL"
	EnvDataDir    = "TESLACAM_DATA_DIR"
	EnvConfigFile = "TESLACAM_CONFIG"
	EnvHeadless   = "TESLACAM_HEADLESS"

	// Tooling environment variable names
	EnvFFmpeg  = "TESLACAM_FFMPEG"
	EnvFFprobe = "TESLACAM_FFPROBE"

	// Export environment variable names
	EnvExportStrategy      = "TESLACAM_EXPORT_STRATEGY"
	EnvStopPolicy          = "TESLACAM_STOP_POLICY"
	EnvFrameBudget         = "TESLACAM_FRAME_BUDGET"
	EnvExportFPS           = "TESLACAM_EXPORT_FPS"
	EnvPacing              = "TESLACAM_PACING"
	EnvTranscodeTimeout    = "TESLACAM_TRANSCODE_TIMEOUT"
	EnvFrameLoopTimeout    = "TESLACAM_FRAME_LOOP_TIMEOUT"
	EnvSeekTimeout         = "TESLACAM_SEEK_TIMEOUT"
	EnvPreserveAspect      = "TESLACAM_PRESERVE_ASPECT"
	EnvOriginalUsesPrimary = "TESLACAM_ORIGINAL_USES_PRIMARY"
	EnvCameraLabels        = "TESLACAM_CAMERA_LABELS"

	// Database filename
	DBFilename = "teslacam.db"

	// Export defaults
	DefaultExportStrategy   = "transcode"
	DefaultStopPolicy       = "shortest"
	DefaultFrameBudget      = 300
	DefaultExportFPS        = 30
	DefaultPacing           = "fast"
	DefaultTranscodeTimeout = 30 * time.Minute
	DefaultFrameLoopTimeout = 30 * time.Minute
	DefaultSeekTimeout      = 10 * time.Second
	DefaultDoctorTimeout    = 15 * time.Second
	DefaultProbeTimeout     = 30 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	ExportsDir() string
	Headless() bool

	FFmpegPath() string
	FFprobePath() string
	DoctorTimeout() time.Duration
	ProbeTimeout() time.Duration

	Export() ExportSettings
}

// ExportSettings are the per-deployment export choices.
type ExportSettings struct {
	Strategy            string        `yaml:"strategy"`
	StopPolicy          string        `yaml:"stop_policy"`
	FrameBudget         int           `yaml:"frame_budget"`
	FPS                 int           `yaml:"fps"`
	Pacing              string        `yaml:"pacing"`
	TranscodeTimeout    time.Duration `yaml:"transcode_timeout"`
	FrameLoopTimeout    time.Duration `yaml:"frame_loop_timeout"`
	SeekTimeout         time.Duration `yaml:"seek_timeout"`
	PreserveAspect      bool          `yaml:"preserve_aspect"`
	OriginalUsesPrimary bool          `yaml:"original_uses_primary"`
	CameraLabels        bool          `yaml:"camera_labels"`
}

// fileConfig is the on-disk YAML shape.
type fileConfig struct {
	Port     int            `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	DataDir  string         `yaml:"data_dir"`
	Headless bool           `yaml:"headless"`
	FFmpeg   string         `yaml:"ffmpeg"`
	FFprobe  string         `yaml:"ffprobe"`
	Export   ExportSettings `yaml:"export"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath  string
	ffprobePath string

	export ExportSettings
}

// DefaultExportSettings returns the built-in export defaults.
func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		Strategy:         DefaultExportStrategy,
		StopPolicy:       DefaultStopPolicy,
		FrameBudget:      DefaultFrameBudget,
		FPS:              DefaultExportFPS,
		Pacing:           DefaultPacing,
		TranscodeTimeout: DefaultTranscodeTimeout,
		FrameLoopTimeout: DefaultFrameLoopTimeout,
		SeekTimeout:      DefaultSeekTimeout,
		PreserveAspect:   true,
	}
}

// New creates a new EnvConfig with defaults, the optional YAML file and
// environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		export:      DefaultExportSettings(),
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	fc := fileConfig{Export: c.export}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.FFmpeg != "" {
		c.ffmpegPath = fc.FFmpeg
	}
	if fc.FFprobe != "" {
		c.ffprobePath = fc.FFprobe
	}
	c.headless = fc.Headless
	c.export = fc.Export
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.ffprobePath = v
	}

	var err error
	if c.headless, err = envBool(EnvHeadless, c.headless); err != nil {
		return err
	}

	e := &c.export
	if v := os.Getenv(EnvExportStrategy); v != "" {
		e.Strategy = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStopPolicy); v != "" {
		e.StopPolicy = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPacing); v != "" {
		e.Pacing = strings.ToLower(v)
	}
	if e.FrameBudget, err = envInt(EnvFrameBudget, e.FrameBudget); err != nil {
		return err
	}
	if e.FPS, err = envInt(EnvExportFPS, e.FPS); err != nil {
		return err
	}
	if e.TranscodeTimeout, err = envDuration(EnvTranscodeTimeout, e.TranscodeTimeout); err != nil {
		return err
	}
	if e.FrameLoopTimeout, err = envDuration(EnvFrameLoopTimeout, e.FrameLoopTimeout); err != nil {
		return err
	}
	if e.SeekTimeout, err = envDuration(EnvSeekTimeout, e.SeekTimeout); err != nil {
		return err
	}
	if e.PreserveAspect, err = envBool(EnvPreserveAspect, e.PreserveAspect); err != nil {
		return err
	}
	if e.OriginalUsesPrimary, err = envBool(EnvOriginalUsesPrimary, e.OriginalUsesPrimary); err != nil {
		return err
	}
	if e.CameraLabels, err = envBool(EnvCameraLabels, e.CameraLabels); err != nil {
		return err
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	switch c.export.Strategy {
	case "transcode", "composite":
	default:
		return fmt.Errorf("invalid %s: %q (want transcode or composite)", EnvExportStrategy, c.export.Strategy)
	}
	switch c.export.StopPolicy {
	case "shortest", "range", "frames":
	default:
		return fmt.Errorf("invalid %s: %q (want shortest, range or frames)", EnvStopPolicy, c.export.StopPolicy)
	}
	switch c.export.Pacing {
	case "fast", "realtime":
	default:
		return fmt.Errorf("invalid %s: %q (want fast or realtime)", EnvPacing, c.export.Pacing)
	}
	if c.export.FPS < 1 || c.export.FPS > 120 {
		return fmt.Errorf("invalid %s: fps must be between 1 and 120", EnvExportFPS)
	}
	if c.export.FrameBudget < 1 {
		return fmt.Errorf("invalid %s: frame budget must be positive", EnvFrameBudget)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir returns the cache directory path
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// ExportsDir returns where delivered export artifacts are kept
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return DefaultDoctorTimeout
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) Export() ExportSettings {
	return c.export
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
