package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

type ProcessorConfig struct {
	ChunkSize        int // characters per fragment
	MaxHeadingLength int
}

// Processor segments extracted document text into fragments.
type Processor struct {
	config ProcessorConfig
}

var _ types.Segmenter = (*Processor)(nil)

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 2000
	}
	if config.MaxHeadingLength <= 0 {
		config.MaxHeadingLength = 120
	}

	return Processor{
		config: config,
	}
}

func (p *Processor) ChunkSize() int {
	return p.config.ChunkSize
}

// Segment splits raw text of the given kind into ordered fragments. PDF text
// passed here carries no page numbers; use SegmentPages when the text is
// available page by page.
func (p *Processor) Segment(raw string, kind models.Kind) ([]models.Fragment, error) {
	switch kind {
	case models.KindPDF:
		c := p.newChunker("\n\n")
		p.segmentText(c, cleanText(raw), new(string))
		return c.finish(), nil
	case models.KindJSON:
		fragments, _, err := p.SegmentJSON(raw)
		return fragments, err
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedKind, kind)
}

// SegmentPages segments PDF text page by page. Fragments never span pages and
// carry the 1-based page number; the current section carries across pages.
func (p *Processor) SegmentPages(pages []string) []models.Fragment {
	c := p.newChunker("\n\n")
	section := ""
	for i, page := range pages {
		c.setPage(i + 1)
		p.segmentText(c, cleanText(page), &section)
	}
	return c.finish()
}

func (p *Processor) segmentText(c *chunker, text string, section *string) {
	for _, paragraph := range splitParagraphs(text) {
		if heading, ok := p.heading(paragraph); ok {
			*section = heading
		}
		c.add(paragraph, *section)
	}
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.ReplaceAll(text, "\x00", "")
}

// chunker accumulates units into fragments no longer than limit characters,
// except for a single unit that alone exceeds the limit.
type chunker struct {
	limit     int
	sep       string
	units     []string
	size      int
	section   string
	page      int
	fragments []models.Fragment
}

func (p *Processor) newChunker(sep string) *chunker {
	return &chunker{
		limit: p.config.ChunkSize,
		sep:   sep,
	}
}

func (c *chunker) add(unit, section string) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return
	}

	n := utf8.RuneCountInString(unit)
	sepLen := utf8.RuneCountInString(c.sep)
	if len(c.units) > 0 && c.size+sepLen+n > c.limit {
		c.flush()
	}

	if len(c.units) > 0 {
		c.size += sepLen
	}
	c.units = append(c.units, unit)
	c.size += n
	if c.section == "" {
		c.section = section
	}
}

func (c *chunker) setPage(page int) {
	if page != c.page {
		c.flush()
		c.page = page
	}
}

func (c *chunker) flush() {
	if len(c.units) == 0 {
		return
	}

	text := strings.TrimSpace(strings.Join(c.units, c.sep))
	if text != "" {
		c.fragments = append(c.fragments, models.Fragment{
			Text:          text,
			Page:          c.page,
			Section:       c.section,
			SequenceIndex: len(c.fragments),
		})
	}

	c.units = c.units[:0]
	c.size = 0
	c.section = ""
}

func (c *chunker) finish() []models.Fragment {
	c.flush()
	if c.fragments == nil {
		return []models.Fragment{}
	}
	return c.fragments
}
