// Package docwatch reloads the paragraph sequence when the document being
// read changes on disk.
package docwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/narrate/tts/paragraph"
)

// DefaultDebounce collapses the bursts of writes editors emit on save.
const DefaultDebounce = 150 * time.Millisecond

// Target receives the new paragraph texts. *tts.Controller satisfies it.
type Target interface {
	UpdateParagraphs(paragraphs []string) error
}

// Watcher watches a single markdown file.
type Watcher struct {
	path     string
	parser   *paragraph.Parser
	target   Target
	logger   *log.Logger
	debounce time.Duration
	onReload func([]paragraph.Paragraph)

	watcher *fsnotify.Watcher
	last    []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l.WithPrefix("docwatch") }
}

// WithDebounce sets how long to wait for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnReload registers fn to run after the target accepted new paragraphs.
func WithOnReload(fn func([]paragraph.Paragraph)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// New creates a watcher for path. initial is the paragraph sequence the
// target already holds; reloads that produce the same texts are skipped.
func New(path string, parser *paragraph.Parser, target Target, initial []string, opts ...Option) (*Watcher, error) {
	if parser == nil || target == nil {
		return nil, errors.New("docwatch: parser and target are required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		parser:   parser,
		target:   target,
		logger:   log.Default().WithPrefix("docwatch"),
		debounce: DefaultDebounce,
		last:     slices.Clone(initial),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		_ = w.watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching document", "path", w.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("reload failed", "path", w.path, "err", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("fsnotify error", "path", w.path, "err", err)
		}
	}
}

// Reload parses the file and hands changed paragraphs to the target.
func (w *Watcher) Reload() error {
	src, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	ps, err := w.parser.Parse(src)
	if err != nil {
		return err
	}
	texts := paragraph.Texts(ps)
	if slices.Equal(texts, w.last) {
		w.logger.Debug("document unchanged", "path", w.path)
		return nil
	}
	if err := w.target.UpdateParagraphs(texts); err != nil {
		return err
	}
	w.last = texts
	w.logger.Info("document reloaded", "path", w.path, "paragraphs", len(texts))
	if w.onReload != nil {
		w.onReload(ps)
	}
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
