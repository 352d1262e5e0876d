package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/gitcha"
)

var (
	readmeNames        = []string{"README.md", "README", "Readme.md", "Readme", "readme.md", "readme"}
	markdownExtensions = []string{"*.md", "*.mdown", "*.mkdn", "*.mkd", "*.markdown"}

	errMissingSource = errors.New("missing markdown source")
)

// source provides a readable markdown source.
type source struct {
	reader io.ReadCloser
	URL    string
}

// Name is how the source is shown and keyed in the session store.
func (s *source) Name() string {
	if s.URL == "" {
		return "stdin"
	}
	return s.URL
}

// IsFile reports whether the source is a local file that can be watched.
func (s *source) IsFile() bool {
	return s.URL != "" && !isURL(s.URL)
}

func isURL(path string) bool {
	u, err := url.ParseRequestURI(path)
	return err == nil && u.Scheme != "" && strings.Contains(path, "://")
}

// sourceFromArg parses an argument and creates a readable source for it.
func sourceFromArg(arg string) (*source, error) {
	// from stdin
	if arg == "-" {
		return &source{reader: os.Stdin}, nil
	}

	// HTTP(S) URLs:
	if isURL(arg) {
		u, _ := url.ParseRequestURI(arg)
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%s is not a supported protocol", u.Scheme)
		}
		client := &http.Client{Timeout: 30 * time.Second}
		// consumer of the source is responsible for closing the ReadCloser.
		resp, err := client.Get(u.String()) //nolint:noctx
		if err != nil {
			return nil, fmt.Errorf("unable to get url: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
		}
		return &source{resp.Body, u.String()}, nil
	}

	// a directory:
	if len(arg) == 0 {
		// use the current working dir if no argument was supplied
		arg = "."
	}
	st, err := os.Stat(arg)
	if err == nil && st.IsDir() {
		path, err := findMarkdown(arg)
		if err != nil {
			return nil, err
		}
		arg = path
	}

	r, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	u, err := filepath.Abs(arg)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("unable to get absolute path: %w", err)
	}
	return &source{r, u}, nil
}

// findMarkdown picks the document to read in dir: a README at the top level,
// otherwise the shallowest markdown file not excluded by .gitignore.
func findMarkdown(dir string) (string, error) {
	for _, name := range readmeNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}

	ch, err := gitcha.FindFilesExcept(dir, markdownExtensions, nil)
	if err != nil {
		return "", fmt.Errorf("unable to search %s: %w", dir, err)
	}
	var found string
	for res := range ch {
		if found == "" || len(res.Path) < len(found) {
			found = res.Path
		}
	}
	if found == "" {
		return "", errMissingSource
	}
	log.Debug("no README, using first markdown file", "path", found)
	return found, nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}
