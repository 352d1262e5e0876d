package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/engines"
	"github.com/dgnsrekt/narrate/tts/engines/bus"
)

var serveQueue string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer synthesis requests from other narrate instances over NATS",
	Long: helpText(fmt.Sprintf("\n%s synthesis requests on the configured bus subject with a local engine. "+
		"Clients select it with --engine bus.", keyword("Serve"))),
	Example: helpText("narrate serve --engine piper\nnarrate serve --engine remote --queue gpu"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := tts.LoadConfigFromViper()
		if err != nil {
			return err
		}
		if cfg.Engine == "bus" {
			return errors.New("serve needs a local engine, not bus")
		}

		logger := log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "narrate",
		})
		if debug {
			logger.SetLevel(log.DebugLevel)
		}

		engine, closer, err := engines.New(cfg, logger)
		if err != nil {
			return err
		}
		defer closer.Close() //nolint:errcheck

		conn, err := nats.Connect(cfg.Bus.URL, nats.Name("narrate-serve"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("unable to connect to %s: %w", cfg.Bus.URL, err)
		}
		defer conn.Drain() //nolint:errcheck

		r, err := bus.Serve(conn, cfg.Bus.Subject, serveQueue, engine, cfg.Playback.GenerationTimeout, logger)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("ready", "engine", engines.Name(cfg), "url", cfg.Bus.URL)
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveQueue, "queue", "narrate", "queue group shared by responders")
}
