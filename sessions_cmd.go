package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/narrate/internal/cache"
)

var prune time.Duration

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List saved reading sessions",
	Long:    helpText(fmt.Sprintf("\n%s the saved reading positions and audio narrate resumes from.", keyword("List"))),
	Example: helpText("narrate sessions\nnarrate sessions --prune 72h"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openSessionStore(log.Default())
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		out := cmd.OutOrStdout()
		if prune > 0 {
			n := store.Prune(prune)
			fmt.Fprintf(out, "Removed %d %s\n", n, plural(n, "session"))
		}

		list := store.List()
		if len(list) == 0 {
			fmt.Fprintln(out, "No saved sessions.")
			return nil
		}
		for _, s := range list {
			fmt.Fprintf(out, "%s  %s\n", keyword(cache.ShortKey(s.Key)), s)
		}
		st := store.Stats()
		fmt.Fprintf(out, "\n%d %s, %s on disk\n", st.ItemCount, plural(int(st.ItemCount), "session"), humanize.Bytes(uint64(st.Size))) //nolint:gosec
		return nil
	},
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func init() {
	sessionsCmd.Flags().DurationVar(&prune, "prune", 0, "remove sessions older than this first")
}
