package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/narrate/tts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceFromArg(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "doc.md"), "# Doc")
	writeFile(t, filepath.Join(dir, "withreadme", "README.md"), "# Readme")
	writeFile(t, filepath.Join(dir, "withreadme", "other.md"), "# Other")
	writeFile(t, filepath.Join(dir, "noreadme", "deep", "nested.md"), "# Nested")
	writeFile(t, filepath.Join(dir, "noreadme", "top.md"), "# Top")
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		arg  string
		want string
	}{
		{"file", filepath.Join(dir, "doc.md"), "doc.md"},
		{"readme in dir", filepath.Join(dir, "withreadme"), "README.md"},
		{"shallowest markdown", filepath.Join(dir, "noreadme"), "top.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := sourceFromArg(tt.arg)
			if err != nil {
				t.Fatalf("sourceFromArg: %v", err)
			}
			defer src.reader.Close()
			if filepath.Base(src.URL) != tt.want {
				t.Errorf("URL = %q, want %s", src.URL, tt.want)
			}
			if !src.IsFile() {
				t.Error("local source not reported as file")
			}
		})
	}

	if _, err := sourceFromArg(filepath.Join(dir, "empty")); !errors.Is(err, errMissingSource) {
		t.Errorf("empty dir: err = %v", err)
	}
	if _, err := sourceFromArg(filepath.Join(dir, "absent.md")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := sourceFromArg("ftp://example.com/doc.md"); err == nil {
		t.Error("ftp accepted")
	}
}

func TestSourceFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.md" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("# Remote\n\nRead this over the network."))
	}))
	defer srv.Close()

	src, err := sourceFromArg(srv.URL + "/doc.md")
	if err != nil {
		t.Fatalf("sourceFromArg: %v", err)
	}
	defer src.reader.Close()
	if src.IsFile() {
		t.Error("URL reported as file")
	}
	ps, err := readParagraphs(src.reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[1].Text != "Read this over the network." {
		t.Errorf("paragraphs = %+v", ps)
	}

	if _, err := sourceFromArg(srv.URL + "/missing.md"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want HTTP status 404", err)
	}
}

func TestReadParagraphsDropsFrontmatter(t *testing.T) {
	doc := "---\ntitle: Notes\n---\n# Notes\n\nBody text."
	ps, err := readParagraphs(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := listParagraphs(&buf, ps); err != nil {
		t.Fatal(err)
	}
	want := "   1  Notes\n   2  Body text.\n"
	if buf.String() != want {
		t.Errorf("listParagraphs() = %q, want %q", buf.String(), want)
	}
}

func TestDefaultConfigParses(t *testing.T) {
	b, err := defaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Style  string                 `yaml:"style"`
		Resume bool                   `yaml:"resume"`
		Engine string                 `yaml:"engine"`
		Voice  tts.GenerationSettings `yaml:"voice"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("default config is not valid YAML: %v", err)
	}
	if doc.Style != "auto" || !doc.Resume || doc.Engine != "mock" || doc.Voice.Speed != 1 {
		t.Errorf("unexpected defaults: %+v", doc)
	}
}

func TestValidateStyle(t *testing.T) {
	if err := validateStyle("dark"); err != nil {
		t.Errorf("dark: %v", err)
	}
	if err := validateStyle("auto"); err != nil {
		t.Errorf("auto: %v", err)
	}
	if err := validateStyle(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing style file accepted")
	}
}

func TestPlural(t *testing.T) {
	if plural(1, "session") != "session" || plural(0, "session") != "sessions" {
		t.Error("plural")
	}
}
