package document

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/extractor"
	"github.com/xhad/doctalk/pkg/metrics"
)

// Service turns uploaded files into the current document.
type Service struct {
	segmenter types.Segmenter
	sink      types.DocumentSink
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewService(segmenter types.Segmenter, sink types.DocumentSink, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		segmenter: segmenter,
		sink:      sink,
		metrics:   m,
		log:       log,
	}
}

// IngestFile loads the file at path, whose kind is taken from name.
func (s *Service) IngestFile(ctx context.Context, path, name string) (models.DocumentMetadata, error) {
	kind, ok := models.KindFromFilename(name)
	if !ok {
		return models.DocumentMetadata{}, fmt.Errorf("%w: %s", types.ErrUnsupportedKind, name)
	}

	content, err := extractor.File(path, kind)
	if err != nil {
		s.record(kind, err)
		return models.DocumentMetadata{}, err
	}
	return s.Ingest(ctx, name, content)
}

func (s *Service) IngestBytes(ctx context.Context, title string, kind models.Kind, data []byte) (models.DocumentMetadata, error) {
	content, err := extractor.Bytes(data, kind)
	if err != nil {
		s.record(kind, err)
		return models.DocumentMetadata{}, err
	}
	return s.Ingest(ctx, title, content)
}

// Ingest segments extracted content and publishes it as the current
// document. The returned metadata is what readers of the new version see.
func (s *Service) Ingest(ctx context.Context, title string, content *extractor.Content) (models.DocumentMetadata, error) {
	meta, doc, err := s.build(title, content)
	if err == nil {
		err = ctx.Err()
	}
	s.record(content.Kind, err)
	if err != nil {
		return models.DocumentMetadata{}, err
	}

	prev := s.sink.Swap(doc)
	s.metrics.DocumentFragments.Set(float64(len(doc.Fragments)))
	s.log.Info("document loaded",
		zap.String("title", meta.Title),
		zap.String("kind", string(meta.Kind)),
		zap.Int("fragments", meta.FragmentCount),
		zap.Uint64("version", prev.Version+1),
	)
	return meta, nil
}

func (s *Service) build(title string, content *extractor.Content) (models.DocumentMetadata, *models.Document, error) {
	var (
		fragments []models.Fragment
		extra     map[string]any
	)

	switch content.Kind {
	case models.KindPDF:
		fragments = s.segmenter.SegmentPages(content.Pages)
		extra = map[string]any{"pages": len(content.Pages)}
	case models.KindJSON:
		var (
			keys []string
			err  error
		)
		fragments, keys, err = s.segmenter.SegmentJSON(content.Text)
		if err != nil {
			return models.DocumentMetadata{}, nil, err
		}
		extra = map[string]any{"keys": keys}
	default:
		return models.DocumentMetadata{}, nil, fmt.Errorf("%w: %q", types.ErrUnsupportedKind, content.Kind)
	}

	if len(fragments) == 0 {
		return models.DocumentMetadata{}, nil, types.ErrEmptyDocument
	}

	meta := models.DocumentMetadata{
		Title:         title,
		Kind:          content.Kind,
		FragmentCount: len(fragments),
		Extra:         extra,
	}
	return meta, &models.Document{Metadata: meta, Fragments: fragments}, nil
}

func (s *Service) record(kind models.Kind, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrEmptyDocument):
		status = "empty"
	default:
		status = "error"
		s.log.Warn("document rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.metrics.DocumentUploads.WithLabelValues(string(kind), status).Inc()
}
