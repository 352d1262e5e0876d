package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/narrate/tts"
)

// Responder serves synthesis requests on a subject using a local engine.
type Responder struct {
	engine  tts.Engine
	timeout time.Duration
	logger  *log.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Serve subscribes to subject in queue group queue so several responders
// can share the load. Each request runs under timeout.
func Serve(conn *nats.Conn, subject, queue string, engine tts.Engine, timeout time.Duration, logger *log.Logger) (*Responder, error) {
	if engine == nil {
		return nil, errors.New("bus: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{
		engine:  engine,
		timeout: timeout,
		logger:  logger.WithPrefix("responder"),
		ctx:     ctx,
		cancel:  cancel,
	}

	sub, err := conn.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(m)
		}()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.sub = sub
	r.logger.Info("serving synthesis requests", "subject", subject, "queue", queue)
	return r, nil
}

func (r *Responder) handle(m *nats.Msg) {
	reply := nats.NewMsg(m.Reply)
	if id := m.Header.Get(HeaderRequestID); id != "" {
		reply.Header.Set(HeaderRequestID, id)
	}

	var req Request
	if err := json.Unmarshal(m.Data, &req); err != nil {
		r.respondError(m, reply, tts.KindServer, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	h, err := r.engine.Generate(ctx, req.Index, req.Text, req.Settings)
	if err != nil {
		ge := tts.AsGenerationError(req.Index, err)
		msg := ge.Message
		if msg == "" {
			msg = err.Error()
		}
		r.respondError(m, reply, ge.Kind, errors.New(msg))
		return
	}
	defer h.Release()

	format, sampleRate, channels := tts.FormatPCM16, 0, 0
	if a, ok := h.(*tts.Audio); ok {
		format, sampleRate, channels = a.Format, a.SampleRate, a.Channels
	}
	reply.Header.Set(HeaderAudioFormat, format.String())
	reply.Header.Set(HeaderSampleRate, strconv.Itoa(sampleRate))
	reply.Header.Set(HeaderChannels, strconv.Itoa(channels))
	reply.Data = h.Bytes()

	if err := m.RespondMsg(reply); err != nil {
		r.logger.Warn("failed to respond", "index", req.Index, "err", err)
		return
	}
	r.logger.Debug("request served", "index", req.Index, "bytes", len(reply.Data), "elapsed", time.Since(start))
}

func (r *Responder) respondError(m, reply *nats.Msg, kind tts.ErrorKind, err error) {
	reply.Header.Set(HeaderError, strings.ReplaceAll(err.Error(), "\n", " "))
	reply.Header.Set(HeaderErrorKind, string(kind))
	if rerr := m.RespondMsg(reply); rerr != nil {
		r.logger.Warn("failed to respond", "err", rerr)
	}
	r.logger.Warn("request failed", "kind", kind, "err", err)
}

// Close stops accepting requests, cancels running ones and waits for them.
func (r *Responder) Close() error {
	err := r.sub.Unsubscribe()
	r.cancel()
	r.wg.Wait()
	return err
}
