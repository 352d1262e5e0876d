package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors for the playback engine.
var (
	// Controller errors
	ErrControllerClosed = errors.New("playback controller is closed")
	ErrNoParagraphs     = errors.New("no paragraphs to play")
	ErrIndexOutOfRange  = errors.New("paragraph index out of range")

	// Generation errors
	ErrGenerationFailed = errors.New("audio generation failed")
	ErrEmptyAudio       = errors.New("engine returned empty audio")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigError reports buffer bounds that violate
// 1 <= MinBufferSize < TargetBufferSize, TargetBufferSize >= 2.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	// KindNetwork is a transport failure reaching the backend.
	KindNetwork ErrorKind = "network"
	// KindServer is a failure reported by the backend itself.
	KindServer ErrorKind = "server"
	// KindTimeout is a request that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
)

// GenerationError is returned by the generation port for one paragraph.
type GenerationError struct {
	Index   int
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("generate paragraph %d: %s: %s", e.Index, e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrGenerationFailed
}

// NewGenerationError builds a GenerationError, inferring the kind from err
// when kind is empty.
func NewGenerationError(index int, kind ErrorKind, err error) *GenerationError {
	if kind == "" {
		kind = ClassifyError(err)
	}
	ge := &GenerationError{Index: index, Kind: kind, Err: err}
	if err != nil {
		ge.Message = err.Error()
	}
	return ge
}

// AsGenerationError converts any error into a GenerationError for index.
func AsGenerationError(index int, err error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		if ge.Index != index {
			cp := *ge
			cp.Index = index
			return &cp
		}
		return ge
	}
	return NewGenerationError(index, "", err)
}

// ClassifyError maps an arbitrary error to a generation error kind.
func ClassifyError(err error) ErrorKind {
	var ge *GenerationError
	switch {
	case err == nil:
		return KindServer
	case errors.As(err, &ge):
		return ge.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "no responders") {
		return KindNetwork
	}
	return KindServer
}

// RenderError reports that the renderer failed to play a ready handle. It is
// terminal for the session.
type RenderError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render paragraph %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// StateError reports a command issued in a state that does not accept it.
// It is a warning; the command is ignored.
type StateError struct {
	Command string
	State   PlaybackStatus
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s ignored in state %s", e.Command, e.State)
}

// IsRecoverableError checks if an error leaves the session usable.
func IsRecoverableError(err error) bool {
	if err == nil {
		return true
	}

	var (
		se *StateError
		ge *GenerationError
		re *RenderError
		ce *ConfigError
	)
	switch {
	case errors.As(err, &se):
		return true
	case errors.As(err, &ge):
		return true
	case errors.As(err, &re), errors.As(err, &ce):
		return false
	case errors.Is(err, ErrControllerClosed):
		return false
	}

	return true
}
