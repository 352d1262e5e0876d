// Package bus implements a generation engine that sends synthesis requests
// over NATS request/reply, and the responder that serves them.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
)

// Message headers.
const (
	HeaderRequestID   = "Request-Id"
	HeaderAudioFormat = "Audio-Format"
	HeaderSampleRate  = "Sample-Rate"
	HeaderChannels    = "Channels"
	HeaderError       = "Error"
	HeaderErrorKind   = "Error-Kind"
)

// DefaultTimeout bounds requests whose context has no deadline.
const DefaultTimeout = 30 * time.Second

// Request is the JSON payload of a synthesis request.
type Request struct {
	Index    int                    `json:"index"`
	Text     string                 `json:"text"`
	Settings tts.GenerationSettings `json:"settings"`
}

// Engine requests audio from whichever responder listens on Subject.
type Engine struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *log.Logger
}

// Connect dials url and returns an engine that owns the connection.
func Connect(url, subject string, logger *log.Logger) (*Engine, error) {
	conn, err := nats.Connect(url,
		nats.Name("narrate"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	e, err := New(conn, subject, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.owned = true
	e.logger.Info("connected to NATS", "url", conn.ConnectedUrl(), "subject", subject)
	return e, nil
}

// New creates an engine on an existing connection.
func New(conn *nats.Conn, subject string, logger *log.Logger) (*Engine, error) {
	if conn == nil {
		return nil, errors.New("bus: nil connection")
	}
	if subject == "" {
		return nil, errors.New("bus: subject is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{conn: conn, subject: subject, logger: logger.WithPrefix("bus")}, nil
}

// Generate sends one request and waits for the reply or ctx.
func (e *Engine) Generate(ctx context.Context, index int, text string, settings tts.GenerationSettings) (tts.AudioHandle, error) {
	payload, err := json.Marshal(Request{Index: index, Text: text, Settings: settings})
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}

	msg := nats.NewMsg(e.subject)
	msg.Data = payload
	reqID := uuid.NewString()
	msg.Header.Set(HeaderRequestID, reqID)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	reply, err := e.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		kind := tts.KindNetwork
		switch {
		case ctx.Err() != nil, errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			kind = tts.KindTimeout
		}
		return nil, tts.NewGenerationError(index, kind, err)
	}

	if msg := reply.Header.Get(HeaderError); msg != "" {
		kind := tts.ErrorKind(reply.Header.Get(HeaderErrorKind))
		switch kind {
		case tts.KindNetwork, tts.KindServer, tts.KindTimeout:
		default:
			kind = tts.KindServer
		}
		return nil, tts.NewGenerationError(index, kind, errors.New(msg))
	}

	format, err := parseFormat(reply.Header.Get(HeaderAudioFormat))
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}
	sampleRate, _ := strconv.Atoi(reply.Header.Get(HeaderSampleRate))
	channels, _ := strconv.Atoi(reply.Header.Get(HeaderChannels))

	a, err := audio.DecodeAudio(reply.Data, format, sampleRate, channels)
	if err != nil {
		return nil, tts.NewGenerationError(index, tts.KindServer, err)
	}
	e.logger.Debug("reply received", "index", index, "request_id", reqID, "bytes", len(reply.Data))
	return a, nil
}

// Close drains the connection if the engine opened it.
func (e *Engine) Close() error {
	if !e.owned {
		return nil
	}
	return e.conn.Drain()
}

func parseFormat(s string) (tts.AudioFormat, error) {
	switch s {
	case "", tts.FormatPCM16.String():
		return tts.FormatPCM16, nil
	case tts.FormatWAV.String():
		return tts.FormatWAV, nil
	}
	return 0, fmt.Errorf("unsupported audio format %q", s)
}
