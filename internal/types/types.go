package types

import (
	"context"

	"github.com/xhad/doctalk/internal/models"
)

// Core interfaces
type DocumentSource interface {
	Snapshot() *models.Document
}

type DocumentSink interface {
	Swap(doc *models.Document) *models.Document
}

type Ranker interface {
	Rank(ctx context.Context, query string, fragments []models.Fragment, topK int) ([]models.RankedFragment, error)
	RankDocument(ctx context.Context, query string, doc *models.Document, topK int) ([]models.RankedFragment, error)
}

// Generator streams the text increments produced for a prompt. onChunk is
// called once per increment, in order; a non-nil return from onChunk stops
// the stream and is returned.
type Generator interface {
	StreamGenerate(ctx context.Context, prompt string, onChunk func(chunk string) error) error
}

// Segmenter splits extracted text into ordered fragments.
type Segmenter interface {
	Segment(raw string, kind models.Kind) ([]models.Fragment, error)
	SegmentPages(pages []string) []models.Fragment
	SegmentJSON(raw string) ([]models.Fragment, []string, error)
}

// DocumentBroadcaster is notified after every successful document swap.
type DocumentBroadcaster interface {
	BroadcastDocumentUpdate(meta models.DocumentMetadata)
}
