// Package utils holds helpers shared by the CLI and the TUI.
package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/mitchellh/go-homedir"
	"github.com/muesli/termenv"
)

var frontmatterBoundary = regexp.MustCompile(`(?m)^---\s*$`)

// RemoveFrontmatter removes a leading YAML front matter block from the
// document.
func RemoveFrontmatter(content []byte) []byte {
	if !bytes.HasPrefix(content, []byte("---")) {
		return content
	}
	bounds := frontmatterBoundary.FindAllIndex(content, 2)
	if len(bounds) != 2 || bounds[0][0] != 0 {
		return content
	}
	return bytes.TrimLeft(content[bounds[1][1]:], "\r\n")
}

// ExpandPath expands tilde and all environment variables from the given
// path.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}

var markdownExtensions = []string{".md", ".mdown", ".mkdn", ".mkd", ".markdown"}

// IsMarkdownFile returns whether the filename has a markdown extension. Names
// without an extension count as markdown.
func IsMarkdownFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return true
	}
	for _, v := range markdownExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// GlamourStyle returns a glamour option for the named style. "auto" picks
// the dark or light style from the terminal background; other names are
// built-in styles or paths to JSON style files.
func GlamourStyle(style string) glamour.TermRendererOption {
	switch style {
	case "", styles.AutoStyle:
		if termenv.HasDarkBackground() {
			return glamour.WithStandardStyle(styles.DarkStyle)
		}
		return glamour.WithStandardStyle(styles.LightStyle)
	}
	if _, ok := styles.DefaultStyles[style]; ok {
		return glamour.WithStandardStyle(style)
	}
	return glamour.WithStylePath(ExpandPath(style))
}
