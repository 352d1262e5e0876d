// Package paragraph splits markdown documents into the speakable paragraphs
// the playback controller reads aloud.
package paragraph

import (
	"errors"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// ErrNoParagraphs is returned when a document has nothing to read.
var ErrNoParagraphs = errors.New("no speakable paragraphs in document")

// Kind identifies the markdown block a paragraph came from.
type Kind int

const (
	KindText Kind = iota
	KindHeading
	KindListItem
	KindQuote
	KindCode
)

// Paragraph is one unit of playback.
type Paragraph struct {
	Index int
	Kind  Kind
	// Text is the speakable text with formatting removed.
	Text string
	// Markdown is the source of the block, for display.
	Markdown string
	// Start and End are byte offsets of Markdown in the document.
	Start, End int
}

// Options controls segmentation.
type Options struct {
	// IncludeCode reads fenced and indented code blocks.
	IncludeCode bool
	// MinLength drops paragraphs shorter than this many characters.
	MinLength int
	// MaxLength splits longer paragraphs at sentence boundaries. Zero
	// disables splitting.
	MaxLength int
}

// DefaultOptions returns the segmentation defaults.
func DefaultOptions() Options {
	return Options{MinLength: 2, MaxLength: 600}
}

// Parser extracts paragraphs from markdown.
type Parser struct {
	md   goldmark.Markdown
	opts Options
}

// NewParser creates a parser with GitHub flavored markdown support.
func NewParser(opts Options) *Parser {
	return &Parser{
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		opts: opts,
	}
}

// Parse returns the paragraphs of source in document order.
func (p *Parser) Parse(source []byte) ([]Paragraph, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	var out []Paragraph
	add := func(kind Kind, n ast.Node, speech string) {
		speech = normalize(speech)
		if len([]rune(speech)) < p.opts.MinLength {
			return
		}
		start, end := span(n)
		md := ""
		if start < end {
			md = string(source[start:end])
		}
		for _, chunk := range p.split(speech) {
			out = append(out, Paragraph{
				Index:    len(out),
				Kind:     kind,
				Text:     chunk,
				Markdown: md,
				Start:    start,
				End:      end,
			})
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			add(KindHeading, n, inlineText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			add(KindListItem, n, inlineText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.Blockquote:
			add(KindQuote, n, inlineText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			add(KindText, n, inlineText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if p.opts.IncludeCode {
				add(KindCode, n, blockLines(n, source))
			}
			return ast.WalkSkipChildren, nil
		case *east.Table, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoParagraphs
	}
	return out, nil
}

// Texts returns the speakable text of each paragraph.
func Texts(ps []Paragraph) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Text
	}
	return out
}

// inlineText flattens the text below n. Block children are joined with a
// space so list items with nested paragraphs read naturally.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				b.Write(c.Segment.Value(source))
				if c.SoftLineBreak() || c.HardLineBreak() {
					b.WriteByte(' ')
				}
			case *ast.String:
				b.Write(c.Value)
			case *ast.AutoLink:
				b.Write(c.Label(source))
			case *ast.RawHTML, *east.TaskCheckBox:
			case *ast.FencedCodeBlock, *ast.CodeBlock:
			default:
				if c.Type() == ast.TypeBlock {
					b.WriteByte(' ')
				}
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func blockLines(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// span returns the byte range covered by the lines of n and its
// descendants.
func span(n ast.Node) (int, int) {
	start, end := -1, -1
	var visit func(ast.Node)
	visit = func(n ast.Node) {
		if n.Type() == ast.TypeBlock {
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if start < 0 || seg.Start < start {
					start = seg.Start
				}
				if seg.Stop > end {
					end = seg.Stop
				}
			}
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			visit(c)
		}
	}
	visit(n)
	if start < 0 {
		return 0, 0
	}
	return start, end
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// split breaks s into chunks no longer than MaxLength, cutting at sentence
// ends where possible.
func (p *Parser) split(s string) []string {
	if p.opts.MaxLength <= 0 || len(s) <= p.opts.MaxLength {
		return []string{s}
	}

	var (
		out     []string
		current strings.Builder
	)
	for _, sentence := range Sentences(s) {
		if current.Len() > 0 && current.Len()+1+len(sentence) > p.opts.MaxLength {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// Sentences splits text at sentence-ending punctuation followed by
// whitespace, skipping common abbreviations.
func Sentences(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && strings.ContainsRune(".!?\"')]", runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start:end])); sentence != "" {
			out = append(out, sentence)
		}
		start = end
		i = end - 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isAbbreviation(before []rune) bool {
	word := before
	for i := len(before) - 1; i >= 0; i-- {
		if unicode.IsSpace(before[i]) {
			word = before[i+1:]
			break
		}
	}
	return abbreviations[strings.ToLower(strings.TrimLeft(string(word), "(\"'"))]
}

var abbreviations = func() map[string]bool {
	m := make(map[string]bool)
	for _, a := range []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "vs", "etc",
		"e.g", "i.e", "cf", "al", "inc", "ltd", "co", "corp", "no", "vol",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"u.s", "u.k", "ph.d",
	} {
		m[a] = true
	}
	return m
}()
