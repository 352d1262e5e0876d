package piper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ErrModelNotFound is returned when a voice model cannot be located.
var ErrModelNotFound = errors.New("piper voice model not found")

// ResolveModel turns a voice name or path into an .onnx model path. Names
// are looked up as <dir>/<name>.onnx in each of dirs.
func ResolveModel(model string, dirs []string) (string, error) {
	if model == "" {
		return "", ErrModelNotFound
	}
	expanded, err := homedir.Expand(model)
	if err != nil {
		return "", err
	}
	if isFile(expanded) {
		return expanded, nil
	}
	if strings.ContainsRune(model, filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}

	name := strings.TrimSuffix(model, ".onnx") + ".onnx"
	for _, dir := range dirs {
		dir, err := homedir.Expand(dir)
		if err != nil {
			continue
		}
		if candidate := filepath.Join(dir, name); isFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched %s)", ErrModelNotFound, model, strings.Join(dirs, ", "))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func defaultVoiceDirs() []string {
	return []string{
		".",
		"~/.local/share/piper/voices",
		"~/.local/share/piper",
		"/usr/share/piper-voices",
	}
}

func findPiperBinary() string {
	locations := []string{"piper", "/usr/local/bin/piper", "/usr/bin/piper"}
	if home, err := homedir.Dir(); err == nil {
		locations = append(locations,
			filepath.Join(home, ".local", "bin", "piper"),
			filepath.Join(home, "bin", "piper"),
		)
	}
	for _, loc := range locations {
		if path, err := exec.LookPath(loc); err == nil {
			return path
		}
	}
	return ""
}
