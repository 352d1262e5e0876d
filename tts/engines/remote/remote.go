// Package remote implements a generation engine backed by an HTTP speech
// synthesis service.
//
// The service receives a JSON request and answers with audio/wav or raw
// 16-bit PCM (audio/L16). Requests are rate limited client side.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerRequestID   = "X-Request-Id"
	headerSampleRate  = "X-Sample-Rate"
	contentTypeJSON   = "application/json"
)

// Response size cap.
const maxAudioBytes = 64 << 20

// ErrUnsupportedAudio is returned for response bodies the renderer cannot
// play.
var ErrUnsupportedAudio = errors.New("unsupported audio content type")

// Request is the JSON body sent to the service.
type Request struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	Pitch       float64 `json:"pitch,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Index       int     `json:"index"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Config holds client settings.
type Config struct {
	URL               string
	APIKey            string
	RequestsPerMinute int
	// SampleRate is assumed for raw PCM responses that do not state one.
	SampleRate int
}

// ConfigFrom converts the remote section of the narrate configuration.
func ConfigFrom(rc tts.RemoteConfig, sampleRate int) Config {
	return Config{
		URL:               rc.URL,
		APIKey:            rc.APIKey,
		RequestsPerMinute: rc.RequestsPerMinute,
		SampleRate:        sampleRate,
	}
}

// Engine calls the synthesis service.
type Engine struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l.WithPrefix("remote") }
}

// New creates a remote engine.
func New(config Config, opts ...Option) (*Engine, error) {
	if config.URL == "" {
		return nil, errors.New("remote: url is required")
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 22050
	}

	e := &Engine{
		config:  config,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		logger:  log.Default().WithPrefix("remote"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate requests audio for one paragraph.
func (e *Engine) Generate(ctx context.Context, index int, text string, settings tts.GenerationSettings) (tts.AudioHandle, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, tts.NewGenerationError(index, "", fmt.Errorf("rate limit wait: %w", err))
	}

	body, err := json.Marshal(Request{
		Text:        text,
		Voice:       settings.Voice,
		Speed:       settings.Speed,
		Pitch:       settings.Pitch,
		Temperature: settings.Temperature,
		Index:       index,
	})
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}
	reqID := uuid.NewString()
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, "audio/wav, audio/L16")
	req.Header.Set(headerRequestID, reqID)
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		kind := tts.KindNetwork
		if ctx.Err() != nil || tts.ClassifyError(err) == tts.KindTimeout {
			kind = tts.KindTimeout
		}
		return nil, tts.NewGenerationError(index, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tts.NewGenerationError(index, tts.KindServer, parseErrorResponse(resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, tts.NewGenerationError(index, "", fmt.Errorf("read audio: %w", err))
	}
	if len(data) == 0 {
		return nil, tts.NewGenerationError(index, tts.KindServer, tts.ErrEmptyAudio)
	}

	a, err := e.decode(resp.Header, data)
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}

	e.logger.Debug("audio received",
		"index", index, "request_id", reqID, "bytes", len(data),
		"duration", a.Duration(), "elapsed", time.Since(start))
	return a, nil
}

func (e *Engine) decode(h http.Header, data []byte) (*tts.Audio, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get(headerContentType))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAudio, h.Get(headerContentType))
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return audio.DecodeAudio(data, tts.FormatWAV, 0, 0)

	case "audio/l16", "application/octet-stream":
		sampleRate := e.config.SampleRate
		if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
			sampleRate = r
		} else if r, err := strconv.Atoi(h.Get(headerSampleRate)); err == nil && r > 0 {
			sampleRate = r
		}
		channels := 1
		if c, err := strconv.Atoi(params["channels"]); err == nil && c > 0 {
			channels = c
		}
		return audio.DecodeAudio(data, tts.FormatPCM16, sampleRate, channels)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAudio, mediaType)
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Detail != "" {
		if er.ErrorCode != "" {
			return fmt.Errorf("service error (%s): %s (code: %s)", resp.Status, er.Detail, er.ErrorCode)
		}
		return fmt.Errorf("service error (%s): %s", resp.Status, er.Detail)
	}
	return fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}
