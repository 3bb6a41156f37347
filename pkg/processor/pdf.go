package processor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(\S.*)$`)
	chapterHeading  = regexp.MustCompile(`(?i)^(chapter|section|part|appendix)\s+[0-9ivxlc]+\b.*$`)
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)+\.?\s+\S.*$`)
	labelHeading    = regexp.MustCompile(`^(\p{L}[\p{L}\p{N} _/&'()-]{0,60}):$`)
)

func splitParagraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			paragraphs = append(paragraphs, part)
		}
	}
	return paragraphs
}

// heading returns the last heading-like line of a paragraph.
func (p *Processor) heading(paragraph string) (string, bool) {
	found := ""
	for _, line := range strings.Split(paragraph, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) > p.config.MaxHeadingLength {
			continue
		}
		if h, ok := matchHeading(line); ok {
			found = h
		}
	}
	return found, found != ""
}

func matchHeading(line string) (string, bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(strings.TrimRight(m[1], "# ")), true
	}
	if m := labelHeading.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if chapterHeading.MatchString(line) || numberedHeading.MatchString(line) {
		return line, true
	}
	return "", false
}
