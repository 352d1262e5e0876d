package ui

import "github.com/dgnsrekt/narrate/tts"

// Config contains TUI-specific configuration.
type Config struct {
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`
	EnableMouse     bool

	// Document shown in the title bar.
	Path  string
	Title string

	// EngineName is displayed in the status bar.
	EngineName string

	// AutoPlay starts reading at StartAt as soon as the program runs.
	AutoPlay bool `env:"NARRATE_AUTOPLAY" envDefault:"true"`
	StartAt  int

	// SaveSession writes a resumable checkpoint. Nil disables the save key.
	SaveSession func() (tts.SessionSavedMsg, error)

	// For debugging the UI
	GlamourEnabled bool `env:"NARRATE_ENABLE_GLAMOUR" envDefault:"true"`
}
