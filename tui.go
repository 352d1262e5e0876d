package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/docwatch"
	"github.com/dgnsrekt/narrate/internal/metrics"
	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/engines"
	"github.com/dgnsrekt/narrate/tts/paragraph"
	"github.com/dgnsrekt/narrate/ui"
)

func sessionDir() (string, error) {
	dir, err := gap.NewScope(gap.User, "narrate").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}

func openSessionStore(logger *log.Logger) (*cache.SessionStore, error) {
	dir, err := sessionDir()
	if err != nil {
		return nil, fmt.Errorf("unable to find cache directory: %w", err)
	}
	return cache.NewSessionStore(cache.DefaultConfig(dir), logger)
}

// setupMetrics starts the Prometheus endpoint when --metrics-addr is set. The
// returned recorder is nil otherwise.
func setupMetrics(ctx context.Context, logger *log.Logger) (*metrics.Recorder, func(), error) {
	if metricsAddr == "" {
		return nil, func() {}, nil
	}
	mp, handler, err := metrics.Setup(ctx, "narrate", Version)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to set up metrics: %w", err)
	}
	rec, err := metrics.New(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("unable to set up metrics: %w", err)
	}
	go func() {
		if err := metrics.Serve(ctx, metricsAddr, handler); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", metricsAddr)
	return rec, func() { _ = mp.Shutdown(context.Background()) }, nil
}

func runTUI(ctx context.Context, src *source, ps []paragraph.Paragraph, cfg tts.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.Default()

	rec, stopMetrics, err := setupMetrics(ctx, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	engine, engineCloser, err := engines.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("unable to start %s engine: %w", cfg.Engine, err)
	}
	defer engineCloser.Close() //nolint:errcheck

	pcfg := audio.DefaultPlayerConfig()
	pcfg.SampleRate = cfg.SampleRate
	pcfg.Volume = cfg.Volume
	player, err := audio.NewPlayer(pcfg, logger)
	if err != nil {
		return fmt.Errorf("unable to open audio device: %w", err)
	}
	defer player.Close() //nolint:errcheck

	texts := paragraph.Texts(ps)
	ctrl, err := tts.NewController(engine, player, audio.NewBuffer(cfg.Playback.RetainBehind), cfg.Playback,
		tts.WithParagraphs(texts),
		tts.WithSettings(cfg.Voice),
		tts.WithLogger(logger),
		tts.WithMetrics(rec),
		tts.WithEngineName(engines.Name(cfg)),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close() //nolint:errcheck

	uiCfg, err := uiConfig(src, engines.Name(cfg))
	if err != nil {
		return err
	}

	var store *cache.SessionStore
	if resume {
		store, err = openSessionStore(logger)
		if err != nil {
			logger.Warn("sessions disabled", "err", err)
		} else {
			defer store.Close() //nolint:errcheck
			if at, ok := restoreSession(store, ctrl, src.Name(), texts, cfg.Voice); ok && from == 0 {
				uiCfg.StartAt = at
			}
			uiCfg.SaveSession = func() (tts.SessionSavedMsg, error) {
				return saveSession(store, ctrl, src.Name())
			}
		}
	}

	p := ui.NewProgram(uiCfg, ctrl, ps, cfg.Voice)

	if watch && src.IsFile() {
		w, err := docwatch.New(src.URL, newParser(), ctrl, texts,
			docwatch.WithLogger(logger),
			docwatch.WithOnReload(func(ps []paragraph.Paragraph) {
				p.Send(ui.ParagraphsReloadedMsg{Paragraphs: ps})
			}),
		)
		if err != nil {
			return fmt.Errorf("unable to watch %s: %w", src.URL, err)
		}
		defer w.Close() //nolint:errcheck
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("document watcher stopped", "err", err)
			}
		}()
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}

	if store != nil {
		if _, err := saveSession(store, ctrl, src.Name()); err != nil {
			logger.Warn("unable to save session", "err", err)
		}
	}
	return nil
}

// restoreSession seeds the controller with the audio saved for this
// document and returns the saved position. Audio generated with different
// voice settings is discarded.
func restoreSession(store *cache.SessionStore, ctrl *tts.Controller, name string, texts []string, voice tts.GenerationSettings) (int, bool) {
	cp, info, err := store.Load(cache.SessionKey(name, texts))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn("unable to restore session", "err", err)
		}
		return 0, false
	}

	if cp.Settings == voice {
		if err := ctrl.Seed(cp.Audio); err != nil {
			log.Warn("unable to seed buffer", "err", err)
		}
	} else {
		for _, h := range cp.Audio {
			h.Release()
		}
	}
	log.Info("restored session", "session", info)

	if cp.CurrentIndex < 0 || cp.CurrentIndex >= len(texts) {
		return 0, true
	}
	return cp.CurrentIndex, true
}

func saveSession(store *cache.SessionStore, ctrl *tts.Controller, name string) (tts.SessionSavedMsg, error) {
	cp, err := ctrl.Checkpoint()
	if err != nil {
		return tts.SessionSavedMsg{}, err
	}
	info, err := store.Save(cache.SessionKey(name, cp.Paragraphs), name, cp)
	if err != nil {
		return tts.SessionSavedMsg{}, err
	}
	return tts.SessionSavedMsg{ID: info.ID, Bytes: info.Size}, nil
}
