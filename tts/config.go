package tts

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BufferedPlaybackConfig controls how far ahead the controller generates and
// how it reacts to generation failures.
type BufferedPlaybackConfig struct {
	// TargetBufferSize is how many paragraphs past the cursor to keep ready.
	TargetBufferSize int `yaml:"target_buffer_size" mapstructure:"target_buffer_size" env:"TARGET_BUFFER_SIZE" envDefault:"4"`
	// MinBufferSize is the underrun threshold.
	MinBufferSize int `yaml:"min_buffer_size" mapstructure:"min_buffer_size" env:"MIN_BUFFER_SIZE" envDefault:"2"`
	// RetainBehind is how many already played paragraphs stay buffered.
	RetainBehind int `yaml:"retain_behind" mapstructure:"retain_behind" env:"RETAIN_BEHIND" envDefault:"1"`

	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries" env:"MAX_RETRIES" envDefault:"2"`
	RetryDelay        time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" env:"RETRY_DELAY" envDefault:"500ms"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" mapstructure:"generation_timeout" env:"GENERATION_TIMEOUT" envDefault:"30s"`
}

// DefaultBufferedPlaybackConfig returns the default buffer bounds.
func DefaultBufferedPlaybackConfig() BufferedPlaybackConfig {
	return BufferedPlaybackConfig{
		TargetBufferSize:  4,
		MinBufferSize:     2,
		RetainBehind:      1,
		MaxRetries:        2,
		RetryDelay:        500 * time.Millisecond,
		GenerationTimeout: 30 * time.Second,
	}
}

// Validate checks 1 <= MinBufferSize < TargetBufferSize and TargetBufferSize >= 2.
func (c BufferedPlaybackConfig) Validate() error {
	switch {
	case c.TargetBufferSize < 2:
		return &ConfigError{Field: "target_buffer_size", Value: c.TargetBufferSize, Reason: "must be at least 2"}
	case c.MinBufferSize < 1:
		return &ConfigError{Field: "min_buffer_size", Value: c.MinBufferSize, Reason: "must be at least 1"}
	case c.MinBufferSize >= c.TargetBufferSize:
		return &ConfigError{
			Field:  "min_buffer_size",
			Value:  c.MinBufferSize,
			Reason: fmt.Sprintf("must be less than target_buffer_size (%d)", c.TargetBufferSize),
		}
	case c.RetainBehind < 0:
		return &ConfigError{Field: "retain_behind", Value: c.RetainBehind, Reason: "must not be negative"}
	case c.MaxRetries < 0:
		return &ConfigError{Field: "max_retries", Value: c.MaxRetries, Reason: "must not be negative"}
	case c.RetryDelay < 0:
		return &ConfigError{Field: "retry_delay", Value: c.RetryDelay, Reason: "must not be negative"}
	case c.GenerationTimeout <= 0:
		return &ConfigError{Field: "generation_timeout", Value: c.GenerationTimeout, Reason: "must be positive"}
	}
	return nil
}

// ConfigUpdate is a partial BufferedPlaybackConfig. Nil fields keep their
// current value, so zero can be set explicitly.
type ConfigUpdate struct {
	TargetBufferSize  *int
	MinBufferSize     *int
	RetainBehind      *int
	MaxRetries        *int
	RetryDelay        *time.Duration
	GenerationTimeout *time.Duration
}

// Merge returns c with every set field of u applied.
func (c BufferedPlaybackConfig) Merge(u ConfigUpdate) BufferedPlaybackConfig {
	if u.TargetBufferSize != nil {
		c.TargetBufferSize = *u.TargetBufferSize
	}
	if u.MinBufferSize != nil {
		c.MinBufferSize = *u.MinBufferSize
	}
	if u.RetainBehind != nil {
		c.RetainBehind = *u.RetainBehind
	}
	if u.MaxRetries != nil {
		c.MaxRetries = *u.MaxRetries
	}
	if u.RetryDelay != nil {
		c.RetryDelay = *u.RetryDelay
	}
	if u.GenerationTimeout != nil {
		c.GenerationTimeout = *u.GenerationTimeout
	}
	return c
}

// Config contains all narrate configuration options.
type Config struct {
	// Engine selects the generation backend.
	Engine string `yaml:"engine" mapstructure:"engine" env:"ENGINE" envDefault:"mock"`
	// Fallback takes over after FallbackAfter consecutive failures of Engine.
	Fallback      string `yaml:"fallback,omitempty" mapstructure:"fallback" env:"FALLBACK"`
	FallbackAfter int    `yaml:"fallback_after" mapstructure:"fallback_after" env:"FALLBACK_AFTER" envDefault:"3"`

	// Audio output
	SampleRate int     `yaml:"sample_rate" mapstructure:"sample_rate" env:"SAMPLE_RATE" envDefault:"22050"`
	Volume     float64 `yaml:"volume" mapstructure:"volume" env:"VOLUME" envDefault:"1.0"`

	Playback BufferedPlaybackConfig `yaml:"playback" mapstructure:"playback" envPrefix:"PLAYBACK_"`
	Voice    GenerationSettings     `yaml:"voice" mapstructure:"voice"`

	Piper  PiperConfig  `yaml:"piper" mapstructure:"piper" envPrefix:"PIPER_"`
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote" envPrefix:"REMOTE_"`
	Bus    BusConfig    `yaml:"bus" mapstructure:"bus" envPrefix:"BUS_"`
	Mock   MockConfig   `yaml:"mock" mapstructure:"mock" envPrefix:"MOCK_"`
}

// PiperConfig contains settings for the local piper binary.
type PiperConfig struct {
	Binary          string        `yaml:"binary" mapstructure:"binary" env:"BINARY" envDefault:"piper"`
	Model           string        `yaml:"model" mapstructure:"model" env:"MODEL" envDefault:"en_US-lessac-medium"`
	ModelPath       string        `yaml:"model_path" mapstructure:"model_path" env:"MODEL_PATH"`
	SpeakerID       int           `yaml:"speaker_id" mapstructure:"speaker_id" env:"SPEAKER_ID" envDefault:"0"`
	NoiseScale      float64       `yaml:"noise_scale" mapstructure:"noise_scale" env:"NOISE_SCALE" envDefault:"0.667"`
	NoiseW          float64       `yaml:"noise_w" mapstructure:"noise_w" env:"NOISE_W" envDefault:"0.8"`
	SentenceSilence time.Duration `yaml:"sentence_silence" mapstructure:"sentence_silence" env:"SENTENCE_SILENCE" envDefault:"200ms"`
}

// RemoteConfig contains settings for an HTTP synthesis backend.
type RemoteConfig struct {
	URL               string `yaml:"url" mapstructure:"url" env:"URL" envDefault:"http://localhost:8880/v1/synthesize"`
	APIKey            string `yaml:"api_key" mapstructure:"api_key" env:"API_KEY"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" env:"REQUESTS_PER_MINUTE" envDefault:"60"`
}

// BusConfig contains settings for a NATS request/reply synthesis backend.
type BusConfig struct {
	URL     string `yaml:"url" mapstructure:"url" env:"URL" envDefault:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" mapstructure:"subject" env:"SUBJECT" envDefault:"tts.synthesize"`
}

// MockConfig contains settings for the scripted engine.
type MockConfig struct {
	GenerationDelay time.Duration `yaml:"generation_delay" mapstructure:"generation_delay" env:"GENERATION_DELAY" envDefault:"300ms"`
	WordsPerMinute  int           `yaml:"words_per_minute" mapstructure:"words_per_minute" env:"WORDS_PER_MINUTE" envDefault:"150"`
	FailureRate     float64       `yaml:"failure_rate" mapstructure:"failure_rate" env:"FAILURE_RATE" envDefault:"0.0"`
}

// Engines lists the generation backends narrate knows about.
var Engines = []string{"mock", "piper", "remote", "bus"}

var validSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:        "mock",
		FallbackAfter: 3,
		SampleRate:    22050,
		Volume:        1.0,
		Playback:      DefaultBufferedPlaybackConfig(),
		Voice:         DefaultGenerationSettings(),
		Piper: PiperConfig{
			Binary:          "piper",
			Model:           "en_US-lessac-medium",
			NoiseScale:      0.667,
			NoiseW:          0.8,
			SentenceSilence: 200 * time.Millisecond,
		},
		Remote: RemoteConfig{
			URL:               "http://localhost:8880/v1/synthesize",
			RequestsPerMinute: 60,
		},
		Bus: BusConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "tts.synthesize",
		},
		Mock: MockConfig{
			GenerationDelay: 300 * time.Millisecond,
			WordsPerMinute:  150,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	c.Engine = strings.ToLower(c.Engine)
	if !slices.Contains(Engines, c.Engine) {
		return fmt.Errorf("invalid engine %q: must be one of %v", c.Engine, Engines)
	}

	c.Fallback = strings.ToLower(c.Fallback)
	if c.Fallback != "" {
		if !slices.Contains(Engines, c.Fallback) || c.Fallback == c.Engine {
			return fmt.Errorf("invalid fallback engine %q: must be one of %v and differ from engine", c.Fallback, Engines)
		}
		if c.FallbackAfter < 1 {
			return fmt.Errorf("fallback_after must be positive, got %d", c.FallbackAfter)
		}
	}

	if !slices.Contains(validSampleRates, c.SampleRate) {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.SampleRate, validSampleRates)
	}

	if c.Volume < 0.0 || c.Volume > 2.0 {
		return fmt.Errorf("volume must be between 0.0 and 2.0, got %f", c.Volume)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}

	if c.Voice.Speed < 0.25 || c.Voice.Speed > 4.0 {
		return fmt.Errorf("voice speed must be between 0.25 and 4.0, got %f", c.Voice.Speed)
	}

	switch c.Engine {
	case "piper":
		if c.Piper.Binary == "" || c.Piper.Model == "" {
			return fmt.Errorf("piper: binary and model are required")
		}
	case "remote":
		if c.Remote.URL == "" {
			return fmt.Errorf("remote: url is required")
		}
		if c.Remote.RequestsPerMinute < 1 {
			return fmt.Errorf("remote: requests_per_minute must be positive, got %d", c.Remote.RequestsPerMinute)
		}
	case "bus":
		if c.Bus.URL == "" || c.Bus.Subject == "" {
			return fmt.Errorf("bus: url and subject are required")
		}
	case "mock":
		if c.Mock.FailureRate < 0.0 || c.Mock.FailureRate > 1.0 {
			return fmt.Errorf("mock: failure_rate must be between 0.0 and 1.0, got %f", c.Mock.FailureRate)
		}
	}

	return nil
}

// MarshalDocument renders the configuration as the contents of narrate.yml.
func (c Config) MarshalDocument() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append([]byte("# narrate configuration\n"), b...), nil
}
