package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
)

func wavBytes(sampleRate, channels, dataLen int) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, uint16(1))
	_ = binary.Write(&b, le, uint16(channels))
	_ = binary.Write(&b, le, uint32(sampleRate))
	_ = binary.Write(&b, le, uint32(sampleRate*channels*2))
	_ = binary.Write(&b, le, uint16(channels*2))
	_ = binary.Write(&b, le, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(dataLen))
	b.Write(make([]byte, dataLen))
	return b.Bytes()
}

func newTestEngine(t *testing.T, handler http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := New(Config{URL: srv.URL + "/v1/synthesize", APIKey: "secret", RequestsPerMinute: 6000},
		WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestGenerateWAV(t *testing.T) {
	var got Request
	var headers http.Header
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavBytes(16000, 1, 16000))
	})

	settings := tts.GenerationSettings{Voice: "amy", Speed: 1.5, Temperature: 0.3}
	h, err := e.Generate(context.Background(), 4, "Read me.", settings)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer h.Release()

	if got.Text != "Read me." || got.Voice != "amy" || got.Speed != 1.5 || got.Index != 4 {
		t.Errorf("request = %+v", got)
	}
	if headers.Get("Authorization") != "Bearer secret" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get(headerRequestID) == "" {
		t.Error("missing request id")
	}
	if h.Duration() != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", h.Duration())
	}
	a := h.(*tts.Audio)
	if a.Format != tts.FormatWAV || a.SampleRate != 16000 {
		t.Errorf("audio = %v %d", a.Format, a.SampleRate)
	}
}

func TestGeneratePCM(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		header      string
		wantRate    int
	}{
		{"rate parameter", "audio/L16; rate=24000; channels=1", "", 24000},
		{"rate header", "application/octet-stream", "16000", 16000},
		{"default rate", "audio/L16", "", 22050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				if tt.header != "" {
					w.Header().Set(headerSampleRate, tt.header)
				}
				_, _ = w.Write(make([]byte, 4800))
			})
			h, err := e.Generate(context.Background(), 0, "x", tts.DefaultGenerationSettings())
			if err != nil {
				t.Fatal(err)
			}
			a := h.(*tts.Audio)
			if a.Format != tts.FormatPCM16 || a.SampleRate != tt.wantRate {
				t.Errorf("format %v rate %d", a.Format, a.SampleRate)
			}
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind tts.ErrorKind
		wantMsg  string
	}{
		{
			name: "structured server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"detail":"model loading","error_code":"warming"}`))
			},
			wantKind: tts.KindServer,
			wantMsg:  "model loading (code: warming)",
		},
		{
			name: "plain server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantKind: tts.KindServer,
			wantMsg:  "boom",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
			},
			wantKind: tts.KindServer,
			wantMsg:  "empty audio",
		},
		{
			name: "mp3 not supported",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
				_, _ = w.Write([]byte("ID3"))
			},
			wantKind: tts.KindServer,
			wantMsg:  "audio/mpeg",
		},
		{
			name: "broken wav",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
				_, _ = w.Write([]byte("RIFF0000WAVEjunk"))
			},
			wantKind: tts.KindServer,
			wantMsg:  "no data chunk",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.handler)
			_, err := e.Generate(context.Background(), 2, "x", tts.DefaultGenerationSettings())
			var ge *tts.GenerationError
			if !errors.As(err, &ge) {
				t.Fatalf("err = %v", err)
			}
			if ge.Kind != tt.wantKind || ge.Index != 2 {
				t.Errorf("kind %s index %d", ge.Kind, ge.Index)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestGenerateNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := New(Config{URL: url, RequestsPerMinute: 6000})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Generate(context.Background(), 0, "x", tts.DefaultGenerationSettings())
	var ge *tts.GenerationError
	if !errors.As(err, &ge) || ge.Kind != tts.KindNetwork {
		t.Errorf("err = %v, want network GenerationError", err)
	}
}

func TestGenerateHonoursContext(t *testing.T) {
	release := make(chan struct{})
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Generate(ctx, 0, "x", tts.DefaultGenerationSettings())
	var ge *tts.GenerationError
	if !errors.As(err, &ge) || ge.Kind != tts.KindTimeout {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "audio/L16")
		_, _ = w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	// One request per minute: the second call must wait and hit the deadline.
	e, _ := New(Config{URL: srv.URL, RequestsPerMinute: 1})
	if _, err := e.Generate(context.Background(), 0, "x", tts.DefaultGenerationSettings()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Generate(ctx, 1, "x", tts.DefaultGenerationSettings()); err == nil {
		t.Fatal("expected rate limited call to fail")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls", calls.Load())
	}
}
