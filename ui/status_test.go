package ui

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/narrate/tts"
)

func TestPositionView(t *testing.T) {
	tests := []struct {
		name string
		snap tts.Snapshot
		want string
	}{
		{"empty", tts.Snapshot{}, "¶ 0/0"},
		{"idle", tts.Snapshot{Status: tts.StatusIdle, TotalParagraphs: 5}, "¶ 0/5"},
		{"playing", tts.Snapshot{Status: tts.StatusPlaying, CurrentIndex: 2, TotalParagraphs: 5}, "¶ 3/5"},
		{"completed", tts.Snapshot{Status: tts.StatusCompleted, CurrentIndex: 5, TotalParagraphs: 5}, "¶ 5/5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := positionView(tt.snap); got != tt.want {
				t.Errorf("positionView() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGaugeView(t *testing.T) {
	snap := tts.Snapshot{
		Status:          tts.StatusPlaying,
		CurrentIndex:    2,
		TotalParagraphs: 10,
		Buffer: tts.BufferStatus{
			TargetBuffer:    4,
			Generated:       []int{1, 2, 3},
			IsGenerating:    true,
			GeneratingIndex: 4,
		},
	}
	if got := gaugeView(snap, "*"); got != "■■*□" {
		t.Errorf("gaugeView() = %q", got)
	}

	snap.CurrentIndex = 8
	snap.Buffer.Generated = []int{8, 9}
	snap.Buffer.IsGenerating = false
	if got := gaugeView(snap, "*"); got != "■■" {
		t.Errorf("gauge should stop at the last paragraph, got %q", got)
	}

	if got := gaugeView(tts.Snapshot{}, "*"); got != "" {
		t.Errorf("empty snapshot gauge = %q", got)
	}
}

func TestSpeedView(t *testing.T) {
	for in, want := range map[float64]string{1: "1×", 1.25: "1.25×", 0: "1×", 0.5: "0.5×"} {
		if got := speedView(in); got != want {
			t.Errorf("speedView(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusPill(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range []tts.PlaybackStatus{
		tts.StatusIdle, tts.StatusInitialBuffering, tts.StatusBuffering,
		tts.StatusPlaying, tts.StatusPaused, tts.StatusCompleted, tts.StatusError,
	} {
		_, label, _ := statusPill(s)
		if label == "" || seen[label] {
			t.Errorf("status %v has label %q", s, label)
		}
		seen[label] = true
		if !strings.Contains(pillView(s), label) {
			t.Errorf("pill for %v does not contain %q", s, label)
		}
	}
}
