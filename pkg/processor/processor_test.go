package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/processor"
)

func TestSegmentJSON(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 2000})

	fragments, keys, err := p.SegmentJSON(`{"a":{"b":1},"c":2}`)
	require.NoError(t, err)

	require.Len(t, fragments, 1)
	assert.Equal(t, "a.b: 1\nc: 2", fragments[0].Text)
	assert.Equal(t, "a", fragments[0].Section)
	assert.Equal(t, 0, fragments[0].SequenceIndex)
	assert.Equal(t, []string{"a", "c"}, keys)
}

func TestSegmentJSONValues(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	raw := `{
		"name": "widget",
		"tags": ["red", "blue"],
		"dims": {"w": 1.5, "h": null},
		"active": true,
		"empty": {},
		"none": []
	}`
	fragments, keys, err := p.SegmentJSON(raw)
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	lines := strings.Split(fragments[0].Text, "\n")
	assert.Equal(t, []string{
		"name: widget",
		"tags.0: red",
		"tags.1: blue",
		"dims.w: 1.5",
		"dims.h: null",
		"active: true",
		"empty: {}",
		"none: []",
	}, lines)
	assert.Equal(t, []string{"name", "tags", "dims", "active", "empty", "none"}, keys)
}

func TestSegmentJSONTopLevelArrayAndScalar(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	fragments, keys, err := p.SegmentJSON(`[{"id": 7}, "x"]`)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "0.id: 7\n1: x", fragments[0].Text)
	assert.Equal(t, []string{"0", "1"}, keys)

	fragments, keys, err = p.SegmentJSON(`42`)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "42", fragments[0].Text)
	assert.Empty(t, keys)

	fragments, _, err = p.SegmentJSON(`{}`)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "{}", fragments[0].Text)
}

func TestSegmentJSONSplitsOnLimit(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 22})

	fragments, _, err := p.SegmentJSON(`{"alpha":"aaaa","beta":"bbbb","gamma":{"delta":"dddd"}}`)
	require.NoError(t, err)

	require.Len(t, fragments, 2)
	assert.Equal(t, "alpha: aaaa\nbeta: bbbb", fragments[0].Text)
	assert.Equal(t, "", fragments[0].Section)
	assert.Equal(t, "gamma.delta: dddd", fragments[1].Text)
	assert.Equal(t, "gamma", fragments[1].Section)
	assert.Equal(t, 1, fragments[1].SequenceIndex)
}

func TestSegmentInvalidJSON(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	for _, raw := range []string{``, `{"a":`, `{"a":1} trailing`, `[1,2`} {
		_, err := p.Segment(raw, models.KindJSON)
		assert.Error(t, err, raw)
	}
}

func TestSegmentJSONNestingLimit(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	_, _, err := p.SegmentJSON(strings.Repeat("[", 1<<20))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds 1000 levels")

	_, _, err = p.SegmentJSON(strings.Repeat(`{"a":`, 1001) + "1" + strings.Repeat("}", 1001))
	assert.Error(t, err)

	fragments, _, err := p.SegmentJSON(strings.Repeat("[", 1000) + strings.Repeat("]", 1000))
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.True(t, strings.HasSuffix(fragments[0].Text, ": []"))
}

func TestSegmentUnsupportedKind(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	_, err := p.Segment("text", models.Kind("DOCX"))
	assert.ErrorIs(t, err, types.ErrUnsupportedKind)
}

func TestSegmentParagraphs(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40})

	raw := "First paragraph here.\n\nSecond one.\n \nThird paragraph is a bit longer.\n\n\n\nFourth."
	fragments, err := p.Segment(raw, models.KindPDF)
	require.NoError(t, err)

	require.Len(t, fragments, 3)
	assert.Equal(t, "First paragraph here.\n\nSecond one.", fragments[0].Text)
	assert.Equal(t, "Third paragraph is a bit longer.", fragments[1].Text)
	assert.Equal(t, "Fourth.", fragments[2].Text)

	for i, f := range fragments {
		assert.Equal(t, i, f.SequenceIndex)
		assert.Zero(t, f.Page)
		assert.LessOrEqual(t, utf8.RuneCountInString(f.Text), 40)
	}
}

func TestSegmentOversizeUnitIsKeptWhole(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 10})

	long := strings.Repeat("x", 35)
	fragments, err := p.Segment("short\n\n"+long+"\n\ntail", models.KindPDF)
	require.NoError(t, err)

	require.Len(t, fragments, 3)
	assert.Equal(t, "short", fragments[0].Text)
	assert.Equal(t, long, fragments[1].Text)
	assert.Equal(t, "tail", fragments[2].Text)
}

func TestSegmentReconstructsContent(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 64})

	var paragraphs []string
	for i := 0; i < 40; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", i%9+1)+"end")
	}
	fragments, err := p.Segment(strings.Join(paragraphs, "\n\n"), models.KindPDF)
	require.NoError(t, err)
	require.NotEmpty(t, fragments)

	var rebuilt []string
	for _, f := range fragments {
		assert.NotEmpty(t, strings.TrimSpace(f.Text))
		rebuilt = append(rebuilt, f.Text)
	}
	assert.Equal(t, strings.Join(paragraphs, "\n\n"), strings.Join(rebuilt, "\n\n"))
}

func TestSegmentWhitespaceOnly(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	fragments, err := p.Segment(" \n\n\t\n ", models.KindPDF)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestSegmentHeadings(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 25})

	raw := strings.Join([]string{
		"Preface text without heading.",
		"# Start",
		"Install first.",
		"Chapter 2 Configuration",
		"Edit the config file.",
		"3.1 Advanced Options",
		"Tune the workers.",
		"Errors:",
		"Check the logs.",
	}, "\n\n")

	fragments, err := p.Segment(raw, models.KindPDF)
	require.NoError(t, err)

	sections := map[string]string{}
	for _, f := range fragments {
		sections[f.Text] = f.Section
	}

	assert.Equal(t, "", sections["Preface text without heading."])
	require.Len(t, fragments, 7)
	assert.Equal(t, "Start", sections["# Start\n\nInstall first."])
	assert.Equal(t, "Chapter 2 Configuration", sections["Chapter 2 Configuration"])
	assert.Equal(t, "Chapter 2 Configuration", sections["Edit the config file."])
	assert.Equal(t, "3.1 Advanced Options", sections["3.1 Advanced Options"])
	assert.Equal(t, "3.1 Advanced Options", sections["Tune the workers."])
	assert.Equal(t, "Errors", sections["Errors:\n\nCheck the logs."])
}

func TestSegmentListItemsAreNotHeadings(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 20})

	raw := strings.Join([]string{
		"2.4 Shopping",
		"1. Buy milk",
		"2. Buy bread",
		"12.1. Checkout",
		"3. Pay cash",
	}, "\n\n")

	fragments, err := p.Segment(raw, models.KindPDF)
	require.NoError(t, err)

	sections := map[string]string{}
	for _, f := range fragments {
		sections[f.Text] = f.Section
	}
	require.Len(t, fragments, 5)
	assert.Equal(t, "2.4 Shopping", sections["1. Buy milk"])
	assert.Equal(t, "2.4 Shopping", sections["2. Buy bread"])
	assert.Equal(t, "12.1. Checkout", sections["3. Pay cash"])
}

func TestSegmentPages(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 2000})

	pages := []string{
		"## Overview\n\nThe system ingests documents.",
		"",
		"It answers questions.\n\nUsing lexical ranking.",
	}
	fragments := p.SegmentPages(pages)

	require.Len(t, fragments, 2)
	assert.Equal(t, 1, fragments[0].Page)
	assert.Equal(t, "Overview", fragments[0].Section)
	assert.Equal(t, 3, fragments[1].Page)
	assert.Equal(t, "It answers questions.\n\nUsing lexical ranking.", fragments[1].Text)
	assert.Equal(t, "Overview", fragments[1].Section, "section carries across pages")
	assert.Equal(t, 1, fragments[1].SequenceIndex)
}
