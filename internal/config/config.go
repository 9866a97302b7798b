// Package config provides the configuration structure for the reading assistant.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// APIKeyEnv overrides extraction.api_key when set.
const APIKeyEnv = "GEMINI_API_KEY"

// Render engines.
const (
	EngineHTTP    = "http"
	EngineCommand = "command"
)

// Resume modes.
const (
	ResumeReplay   = "replay"
	ResumeContinue = "continue"
)

// Defaults applied to zero values.
const (
	DefaultCapturePin        = 17
	DefaultPausePin          = 22
	DefaultCancelPin         = 27
	DefaultDevicePollMillis  = 30
	DefaultDebounceMillis    = 300
	DefaultSysfsRoot         = "/sys/class/gpio"
	DefaultDeviceID          = "reader"
	DefaultBudgetSeconds     = 600
	DefaultSessionPollMillis = 100
	DefaultCameraBinary      = "rpicam-still"
	DefaultImageWidth        = 1024
	DefaultImageHeight       = 768
	DefaultWarmupMillis      = 2000
	DefaultModel             = "gemini-1.5-flash"
	DefaultMaxAttempts       = 3
	DefaultBackoffMillis     = 1000
	DefaultTTSBaseURL        = "http://localhost:8000"
	DefaultTTSTimeoutSeconds = 120
	DefaultTTSLanguage       = "en"
	DefaultPlayerBinary      = "aplay"
	DefaultStopGraceMillis   = 1200
	DefaultProgressBackend   = "file"
	DefaultProgressBucket    = "READER_PROGRESS"
	DefaultEventsSubject     = "reader.events"
	DefaultControlSubject    = "reader.control"
	DefaultBaseLogsDir       = "logs"
	DefaultWorkDir           = "work"
	DefaultImageDir          = "images"
)

var (
	// ErrInvalidPin indicates a negative or duplicated GPIO line.
	ErrInvalidPin = errors.New("invalid gpio pin")
	// ErrInvalidDuration indicates a negative duration setting.
	ErrInvalidDuration = errors.New("duration cannot be negative")
	// ErrUnknownEngine indicates an unsupported tts.engine.
	ErrUnknownEngine = errors.New("unknown tts engine")
	// ErrUnknownResumeMode indicates an unsupported session.resume_mode.
	ErrUnknownResumeMode = errors.New("unknown resume mode")
	// ErrUnknownBackend indicates an unsupported progress.backend.
	ErrUnknownBackend = errors.New("unknown progress backend")
	// ErrNATSRequired indicates the nats progress backend without nats.url.
	ErrNATSRequired = errors.New("progress backend nats requires nats.url")
	// ErrCommandRequired indicates the command engine without tts.binary.
	ErrCommandRequired = errors.New("tts engine command requires tts.binary")
)

// PinsConfig maps buttons to GPIO lines.
type PinsConfig struct {
	Capture int `toml:"capture"`
	Pause   int `toml:"pause"`
	Cancel  int `toml:"cancel"`
}

// DeviceConfig holds the button wiring.
type DeviceConfig struct {
	Pins           PinsConfig `toml:"pins"`
	ActiveHigh     bool       `toml:"active_high"`
	PollIntervalMs int        `toml:"poll_interval_ms"`
	DebounceMs     int        `toml:"debounce_ms"`
	SysfsRoot      string     `toml:"sysfs_root"`
	DeviceID       string     `toml:"device_id"`
}

// SessionConfig tunes narration.
type SessionConfig struct {
	BudgetSeconds  int    `toml:"budget_seconds"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	ResumeMode     string `toml:"resume_mode"`
}

// CameraConfig holds the still capture command.
type CameraConfig struct {
	Binary   string   `toml:"binary"`
	Args     []string `toml:"args"`
	Width    int      `toml:"width"`
	Height   int      `toml:"height"`
	WarmupMs int      `toml:"warmup_ms"`
}

// ExtractionConfig holds the Gemini settings and the retry policy.
type ExtractionConfig struct {
	APIKey      string `toml:"api_key"`
	Model       string `toml:"model"`
	Prompt      string `toml:"prompt"`
	MaxAttempts int    `toml:"max_attempts"`
	BackoffMs   int    `toml:"backoff_ms"`
}

// TTSConfig selects and configures the render engine.
type TTSConfig struct {
	Engine         string   `toml:"engine"`
	BaseURL        string   `toml:"base_url"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Language       string   `toml:"language"`
	Temperature    float64  `toml:"temperature"`
	SpeakerRefPath string   `toml:"speaker_ref_path"`
	Binary         string   `toml:"binary"`
	Args           []string `toml:"args"`
	Extension      string   `toml:"extension"`
}

// PlayerConfig holds the playback command.
type PlayerConfig struct {
	Binary      string   `toml:"binary"`
	Args        []string `toml:"args"`
	StopGraceMs int      `toml:"stop_grace_ms"`
}

// ProgressConfig selects the checkpoint store.
type ProgressConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Bucket  string `toml:"bucket"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables it.
type NATSConfig struct {
	URL            string `toml:"url"`
	EventsSubject  string `toml:"events_subject"`
	ControlSubject string `toml:"control_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	WorkDir     string `toml:"work_dir"`
	ImageDir    string `toml:"image_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Device     DeviceConfig     `toml:"device"`
	Session    SessionConfig    `toml:"session"`
	Camera     CameraConfig     `toml:"camera"`
	Extraction ExtractionConfig `toml:"extraction"`
	TTS        TTSConfig        `toml:"tts"`
	Player     PlayerConfig     `toml:"player"`
	Progress   ProgressConfig   `toml:"progress"`
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the reading assistant.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	key, ok := lookup(APIKeyEnv)
	if ok && key != "" {
		c.Extraction.APIKey = key
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	c.applyDeviceDefaults()

	defaultInt(&c.Session.BudgetSeconds, DefaultBudgetSeconds)
	defaultInt(&c.Session.PollIntervalMs, DefaultSessionPollMillis)
	defaultString(&c.Session.ResumeMode, ResumeReplay)

	defaultString(&c.Camera.Binary, DefaultCameraBinary)
	defaultInt(&c.Camera.Width, DefaultImageWidth)
	defaultInt(&c.Camera.Height, DefaultImageHeight)
	defaultInt(&c.Camera.WarmupMs, DefaultWarmupMillis)

	defaultString(&c.Extraction.Model, DefaultModel)
	defaultInt(&c.Extraction.MaxAttempts, DefaultMaxAttempts)
	defaultInt(&c.Extraction.BackoffMs, DefaultBackoffMillis)

	defaultString(&c.TTS.Engine, EngineHTTP)
	defaultString(&c.TTS.BaseURL, DefaultTTSBaseURL)
	defaultInt(&c.TTS.TimeoutSeconds, DefaultTTSTimeoutSeconds)
	defaultString(&c.TTS.Language, DefaultTTSLanguage)

	defaultString(&c.Player.Binary, DefaultPlayerBinary)
	defaultInt(&c.Player.StopGraceMs, DefaultStopGraceMillis)

	defaultString(&c.Progress.Backend, DefaultProgressBackend)
	defaultString(&c.Progress.Bucket, DefaultProgressBucket)

	defaultString(&c.NATS.EventsSubject, DefaultEventsSubject)
	defaultString(&c.NATS.ControlSubject, DefaultControlSubject)

	defaultString(&c.Paths.BaseLogsDir, DefaultBaseLogsDir)
	defaultString(&c.Paths.WorkDir, DefaultWorkDir)
	defaultString(&c.Paths.ImageDir, DefaultImageDir)

	if c.Progress.Path == "" {
		c.Progress.Path = c.defaultProgressPath()
	}
}

func (c *Config) applyDeviceDefaults() {
	defaultInt(&c.Device.Pins.Capture, DefaultCapturePin)
	defaultInt(&c.Device.Pins.Pause, DefaultPausePin)
	defaultInt(&c.Device.Pins.Cancel, DefaultCancelPin)
	defaultInt(&c.Device.PollIntervalMs, DefaultDevicePollMillis)
	defaultInt(&c.Device.DebounceMs, DefaultDebounceMillis)
	defaultString(&c.Device.SysfsRoot, DefaultSysfsRoot)
	defaultString(&c.Device.DeviceID, DefaultDeviceID)
}

func (c *Config) defaultProgressPath() string {
	if c.Progress.Backend == "badger" {
		return filepath.Join(c.Paths.WorkDir, "progress")
	}

	return filepath.Join(c.Paths.WorkDir, "progress.json")
}

// Validate rejects settings the appliance cannot run with.
func (c *Config) Validate() error {
	pins := []int{c.Device.Pins.Capture, c.Device.Pins.Pause, c.Device.Pins.Cancel}
	seen := make(map[int]bool, len(pins))

	for _, pin := range pins {
		if pin < 0 || seen[pin] {
			return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
		}

		seen[pin] = true
	}

	durations := map[string]int{
		"device.poll_interval_ms":  c.Device.PollIntervalMs,
		"device.debounce_ms":       c.Device.DebounceMs,
		"session.budget_seconds":   c.Session.BudgetSeconds,
		"session.poll_interval_ms": c.Session.PollIntervalMs,
		"camera.warmup_ms":         c.Camera.WarmupMs,
		"extraction.backoff_ms":    c.Extraction.BackoffMs,
		"tts.timeout_seconds":      c.TTS.TimeoutSeconds,
		"player.stop_grace_ms":     c.Player.StopGraceMs,
	}

	for name, value := range durations {
		if value < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, name)
		}
	}

	switch c.Session.ResumeMode {
	case ResumeReplay, ResumeContinue:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownResumeMode, c.Session.ResumeMode)
	}

	switch c.TTS.Engine {
	case EngineHTTP:
	case EngineCommand:
		if c.TTS.Binary == "" {
			return ErrCommandRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.TTS.Engine)
	}

	switch c.Progress.Backend {
	case "file", "badger":
	case "nats":
		if c.NATS.URL == "" {
			return ErrNATSRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Progress.Backend)
	}

	return nil
}

// Millis converts a millisecond setting.
func Millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

// Seconds converts a second setting.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func defaultInt(value *int, fallback int) {
	if *value == 0 {
		*value = fallback
	}
}

func defaultString(value *string, fallback string) {
	if *value == "" {
		*value = fallback
	}
}
