package models

import (
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindPDF  Kind = "PDF"
	KindJSON Kind = "JSON"
)

// KindFromFilename maps a file extension to a document kind.
func KindFromFilename(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, true
	case ".json":
		return KindJSON, true
	}
	return "", false
}

// Fragment is a bounded slice of document text used as the unit of retrieval.
// Page is 1-based; zero means the source has no pages. An empty Section means
// no heading was in effect.
type Fragment struct {
	Text          string `json:"text"`
	Page          int    `json:"page,omitempty"`
	Section       string `json:"section,omitempty"`
	SequenceIndex int    `json:"sequenceIndex"`
}

type DocumentMetadata struct {
	Title         string         `json:"title"`
	Kind          Kind           `json:"kind"`
	FragmentCount int            `json:"fragmentCount"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Document is the value published by the document store. It must not be
// modified once published.
type Document struct {
	Metadata  DocumentMetadata
	Fragments []Fragment
	Version   uint64
	LoadedAt  time.Time
}

// Empty reports whether the document holds no fragments.
func (d *Document) Empty() bool {
	return d == nil || len(d.Fragments) == 0
}

type RankedFragment struct {
	Fragment
	Relevance int `json:"relevance"`
}
