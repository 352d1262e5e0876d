package utils

import (
	"os"
	"testing"
)

func TestRemoveFrontmatter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no frontmatter", "# Title\n\nBody", "# Title\n\nBody"},
		{"frontmatter", "---\ntitle: x\n---\n\n# Title", "# Title"},
		{"unterminated", "---\ntitle: x\n# Title", "---\ntitle: x\n# Title"},
		{"rule later", "Body\n\n---\n\nMore", "Body\n\n---\n\nMore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(RemoveFrontmatter([]byte(tt.input))); got != tt.want {
				t.Errorf("RemoveFrontmatter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMarkdownFile(t *testing.T) {
	tests := map[string]bool{
		"README":       true,
		"notes.md":     true,
		"notes.MD":     true,
		"doc.markdown": true,
		"main.go":      false,
		"archive.tar":  false,
	}
	for name, want := range tests {
		if got := IsMarkdownFile(name); got != want {
			t.Errorf("IsMarkdownFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("NARRATE_TEST_DIR", "/tmp/narrate")
	if got := ExpandPath("$NARRATE_TEST_DIR/voices"); got != "/tmp/narrate/voices" {
		t.Errorf("ExpandPath() = %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/voices"); got != home+"/voices" {
		t.Errorf("ExpandPath(~) = %q, want %q", got, home+"/voices")
	}
}
