package tts

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads the narrate configuration from Viper.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}
	if viper.IsSet("fallback") {
		cfg.Fallback = viper.GetString("fallback")
	}
	if viper.IsSet("fallback_after") {
		cfg.FallbackAfter = viper.GetInt("fallback_after")
	}
	if viper.IsSet("sample_rate") {
		cfg.SampleRate = viper.GetInt("sample_rate")
	}
	if viper.IsSet("volume") {
		cfg.Volume = viper.GetFloat64("volume")
	}

	cfg.Playback = loadPlaybackConfig(cfg.Playback)
	cfg.Voice = loadVoiceSettings(cfg.Voice)

	// Engine sections
	if viper.IsSet("piper.binary") {
		cfg.Piper.Binary = viper.GetString("piper.binary")
	}
	if viper.IsSet("piper.model") {
		cfg.Piper.Model = viper.GetString("piper.model")
	}
	if viper.IsSet("piper.model_path") {
		cfg.Piper.ModelPath = viper.GetString("piper.model_path")
	}
	if viper.IsSet("piper.speaker_id") {
		cfg.Piper.SpeakerID = viper.GetInt("piper.speaker_id")
	}
	if viper.IsSet("piper.noise_scale") {
		cfg.Piper.NoiseScale = viper.GetFloat64("piper.noise_scale")
	}
	if viper.IsSet("piper.noise_w") {
		cfg.Piper.NoiseW = viper.GetFloat64("piper.noise_w")
	}
	if viper.IsSet("piper.sentence_silence") {
		cfg.Piper.SentenceSilence = viper.GetDuration("piper.sentence_silence")
	}

	if viper.IsSet("remote.url") {
		cfg.Remote.URL = viper.GetString("remote.url")
	}
	if viper.IsSet("remote.api_key") {
		cfg.Remote.APIKey = viper.GetString("remote.api_key")
	}
	if viper.IsSet("remote.requests_per_minute") {
		cfg.Remote.RequestsPerMinute = viper.GetInt("remote.requests_per_minute")
	}

	if viper.IsSet("bus.url") {
		cfg.Bus.URL = viper.GetString("bus.url")
	}
	if viper.IsSet("bus.subject") {
		cfg.Bus.Subject = viper.GetString("bus.subject")
	}

	if viper.IsSet("mock.generation_delay") {
		cfg.Mock.GenerationDelay = viper.GetDuration("mock.generation_delay")
	}
	if viper.IsSet("mock.words_per_minute") {
		cfg.Mock.WordsPerMinute = viper.GetInt("mock.words_per_minute")
	}
	if viper.IsSet("mock.failure_rate") {
		cfg.Mock.FailureRate = viper.GetFloat64("mock.failure_rate")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadPlaybackConfig(cfg BufferedPlaybackConfig) BufferedPlaybackConfig {
	if viper.IsSet("playback.target_buffer_size") {
		cfg.TargetBufferSize = viper.GetInt("playback.target_buffer_size")
	}
	if viper.IsSet("playback.min_buffer_size") {
		cfg.MinBufferSize = viper.GetInt("playback.min_buffer_size")
	}
	if viper.IsSet("playback.retain_behind") {
		cfg.RetainBehind = viper.GetInt("playback.retain_behind")
	}
	if viper.IsSet("playback.max_retries") {
		cfg.MaxRetries = viper.GetInt("playback.max_retries")
	}
	if viper.IsSet("playback.retry_delay") {
		cfg.RetryDelay = viper.GetDuration("playback.retry_delay")
	}
	if viper.IsSet("playback.generation_timeout") {
		cfg.GenerationTimeout = viper.GetDuration("playback.generation_timeout")
	}
	return cfg
}

func loadVoiceSettings(s GenerationSettings) GenerationSettings {
	if viper.IsSet("voice.voice") {
		s.Voice = viper.GetString("voice.voice")
	}
	if viper.IsSet("voice.speed") {
		s.Speed = viper.GetFloat64("voice.speed")
	}
	if viper.IsSet("voice.pitch") {
		s.Pitch = viper.GetFloat64("voice.pitch")
	}
	if viper.IsSet("voice.temperature") {
		s.Temperature = viper.GetFloat64("voice.temperature")
	}
	return s
}

// SetDefaults sets default values in Viper for the narrate configuration.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("engine", defaults.Engine)
	viper.SetDefault("fallback_after", defaults.FallbackAfter)
	viper.SetDefault("sample_rate", defaults.SampleRate)
	viper.SetDefault("volume", defaults.Volume)

	// Playback
	viper.SetDefault("playback.target_buffer_size", defaults.Playback.TargetBufferSize)
	viper.SetDefault("playback.min_buffer_size", defaults.Playback.MinBufferSize)
	viper.SetDefault("playback.retain_behind", defaults.Playback.RetainBehind)
	viper.SetDefault("playback.max_retries", defaults.Playback.MaxRetries)
	viper.SetDefault("playback.retry_delay", defaults.Playback.RetryDelay.String())
	viper.SetDefault("playback.generation_timeout", defaults.Playback.GenerationTimeout.String())

	// Voice
	viper.SetDefault("voice.speed", defaults.Voice.Speed)
	viper.SetDefault("voice.temperature", defaults.Voice.Temperature)

	// Engines
	viper.SetDefault("piper.binary", defaults.Piper.Binary)
	viper.SetDefault("piper.model", defaults.Piper.Model)
	viper.SetDefault("piper.noise_scale", defaults.Piper.NoiseScale)
	viper.SetDefault("piper.noise_w", defaults.Piper.NoiseW)
	viper.SetDefault("piper.sentence_silence", defaults.Piper.SentenceSilence.String())
	viper.SetDefault("remote.url", defaults.Remote.URL)
	viper.SetDefault("remote.requests_per_minute", defaults.Remote.RequestsPerMinute)
	viper.SetDefault("bus.url", defaults.Bus.URL)
	viper.SetDefault("bus.subject", defaults.Bus.Subject)
	viper.SetDefault("mock.generation_delay", defaults.Mock.GenerationDelay.String())
	viper.SetDefault("mock.words_per_minute", defaults.Mock.WordsPerMinute)
	viper.SetDefault("mock.failure_rate", defaults.Mock.FailureRate)
}
