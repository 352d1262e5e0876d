// Package main provides the entry point for the narrate CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/paragraph"
	"github.com/dgnsrekt/narrate/ui"
	"github.com/dgnsrekt/narrate/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	style       string
	width       uint
	mouse       bool
	from        int
	resume      bool
	watch       bool
	includeCode bool
	listOnly    bool
	metricsAddr string
	debug       bool

	rootCmd = &cobra.Command{
		Use:   "narrate [SOURCE|DIR]",
		Short: "Read markdown aloud in the terminal",
		Long: helpText(
			fmt.Sprintf("\nRead markdown aloud in the terminal, %s.", keyword("one paragraph ahead")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != "auto" && styles.DefaultStyles[style] == nil {
		style = utils.ExpandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// grab config values from Viper
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	resume = viper.GetBool("resume")
	includeCode = viper.GetBool("include_code")
	debug = viper.GetBool("debug")

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	if from < 0 {
		return fmt.Errorf("--from must be a paragraph number, got %d", from)
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") && isTerminal && width == 0 {
		w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
		if err == nil {
			width = uint(w) //nolint:gosec
		}
		if width > 120 {
			width = 120
		}
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	// if stdin is a pipe then use stdin for input. note that you can also
	// explicitly use a - to read from stdin.
	var (
		src *source
		err error
	)
	if yes, perr := stdinIsPipe(); perr != nil {
		return perr
	} else if yes {
		src = &source{reader: os.Stdin}
	} else {
		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		if src, err = sourceFromArg(arg); err != nil {
			return err
		}
	}
	defer src.reader.Close() //nolint:errcheck

	ps, err := readParagraphs(src.reader)
	if err != nil {
		return err
	}

	if listOnly {
		return listParagraphs(cmd.OutOrStdout(), ps)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		return errors.New("narrate needs a terminal; use --list to print the paragraphs")
	}

	cfg, err := tts.LoadConfigFromViper()
	if err != nil {
		return err
	}
	return runTUI(cmd.Context(), src, ps, cfg)
}

func newParser() *paragraph.Parser {
	opts := paragraph.DefaultOptions()
	opts.IncludeCode = includeCode
	return paragraph.NewParser(opts)
}

func readParagraphs(r io.Reader) ([]paragraph.Paragraph, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read from reader: %w", err)
	}
	b = utils.RemoveFrontmatter(b)

	ps, err := newParser().Parse(b)
	if err != nil {
		return nil, fmt.Errorf("unable to split document: %w", err)
	}
	return ps, nil
}

func listParagraphs(w io.Writer, ps []paragraph.Paragraph) error {
	for _, p := range ps {
		if _, err := fmt.Fprintf(w, "%4d  %s\n", p.Index+1, p.Text); err != nil {
			return fmt.Errorf("unable to write to writer: %w", err)
		}
	}
	return nil
}

// uiConfig reads the TUI settings from the environment and applies the
// command line options on top.
func uiConfig(src *source, engineName string) (ui.Config, error) {
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return cfg, fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the flag if unset or invalid
	if cfg.GlamourStyle == "" || validateStyle(cfg.GlamourStyle) != nil {
		cfg.GlamourStyle = style
	}

	cfg.Path = src.URL
	cfg.Title = filepath.Base(src.Name())
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	cfg.EngineName = engineName
	if from > 0 {
		cfg.StartAt = from - 1
	}
	return cfg, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringP("engine", "e", "", fmt.Sprintf("speech engine %v", tts.Engines))
	rootCmd.PersistentFlags().Bool("debug", false, "write debug output to the log file")
	rootCmd.Flags().String("fallback", "", "engine to switch to after repeated failures")
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to use the terminal width)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	rootCmd.Flags().IntVarP(&from, "from", "f", 0, "start reading at paragraph `N` (1-based)")
	rootCmd.Flags().Bool("resume", true, "restore the saved position and audio of this document")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "re-read the document when the file changes")
	rootCmd.Flags().Bool("include-code", false, "read code blocks aloud")
	rootCmd.Flags().BoolVarP(&listOnly, "list", "l", false, "print the paragraphs that would be read and exit")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on `ADDR` (e.g. :9090)")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("fallback", rootCmd.Flags().Lookup("fallback"))
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("resume", rootCmd.Flags().Lookup("resume"))
	_ = viper.BindPFlag("include_code", rootCmd.Flags().Lookup("include-code"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	viper.SetDefault("resume", true)
	tts.SetDefaults()

	rootCmd.AddCommand(configCmd, manCmd, serveCmd, sessionsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narrate")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narrate")}, dirs...)
	}

	if c := os.Getenv("NARRATE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narrate")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narrate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "narrate.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
