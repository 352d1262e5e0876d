package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/narrate/tts/paragraph"
	"github.com/dgnsrekt/narrate/utils"
)

const gutterWidth = 2

var (
	currentGutter = lipgloss.NewStyle().Foreground(fuchsia).Render("▌ ")
	playedGutter  = lipgloss.NewStyle().Foreground(darkGray).Render("│ ")
	plainGutter   = "  "
)

// document renders paragraphs once per width and highlights the one being
// read.
type document struct {
	paragraphs []paragraph.Paragraph
	rendered   []string
	width      int
	style      string
	glamour    bool
}

func newDocument(ps []paragraph.Paragraph, style string, useGlamour bool) *document {
	return &document{paragraphs: ps, style: style, glamour: useGlamour}
}

func (d *document) setParagraphs(ps []paragraph.Paragraph) {
	d.paragraphs = ps
	d.rendered = nil
}

func (d *document) len() int { return len(d.paragraphs) }

func (d *document) text(i int) (string, bool) {
	if i < 0 || i >= len(d.paragraphs) {
		return "", false
	}
	return d.paragraphs[i].Text, true
}

// resize re-renders every paragraph if width changed.
func (d *document) resize(width int) {
	if width == d.width && d.rendered != nil {
		return
	}
	d.width = width
	wrap := max(width-gutterWidth, 10)

	var r *glamour.TermRenderer
	if d.glamour {
		var err error
		r, err = glamour.NewTermRenderer(
			utils.GlamourStyle(d.style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			log.Error("unable to create glamour renderer", "err", err)
		}
	}

	d.rendered = make([]string, len(d.paragraphs))
	for i, p := range d.paragraphs {
		d.rendered[i] = renderParagraph(r, p, wrap)
	}
}

func renderParagraph(r *glamour.TermRenderer, p paragraph.Paragraph, wrap int) string {
	src := p.Markdown
	if src == "" {
		src = p.Text
	}
	if r != nil {
		out, err := r.Render(src)
		if err == nil {
			return strings.Trim(out, "\n")
		}
		log.Debug("glamour render failed, using plain text", "index", p.Index, "err", err)
	}
	return wordwrap.String(p.Text, wrap)
}

// view joins the paragraphs with gutters and returns the first line of each
// paragraph.
func (d *document) view(current int) (string, []int) {
	var (
		b      strings.Builder
		starts = make([]int, len(d.rendered))
		line   int
	)
	for i, r := range d.rendered {
		gutter := plainGutter
		switch {
		case i == current:
			gutter = currentGutter
		case i < current:
			gutter = playedGutter
		}
		starts[i] = line
		for _, l := range strings.Split(r, "\n") {
			b.WriteString(gutter)
			b.WriteString(l)
			b.WriteByte('\n')
			line++
		}
		b.WriteByte('\n')
		line++
	}
	return strings.TrimSuffix(b.String(), "\n"), starts
}
