package document_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/document"
	"github.com/xhad/doctalk/pkg/extractor"
	"github.com/xhad/doctalk/pkg/metrics"
	"github.com/xhad/doctalk/pkg/processor"
	"github.com/xhad/doctalk/pkg/store"
)

func newService(t *testing.T) (*document.Service, *store.DocumentStore, *metrics.Metrics) {
	t.Helper()
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 2000})
	docs := store.New()
	m := metrics.NewNop()
	return document.NewService(&p, docs, nil, m), docs, m
}

func TestIngestJSON(t *testing.T) {
	svc, docs, m := newService(t)

	meta, err := svc.IngestBytes(context.Background(), "data.json", models.KindJSON, []byte(`{"a":{"b":1},"c":2}`))
	require.NoError(t, err)

	assert.Equal(t, "data.json", meta.Title)
	assert.Equal(t, models.KindJSON, meta.Kind)
	assert.Equal(t, 1, meta.FragmentCount)
	assert.Equal(t, []string{"a", "c"}, meta.Extra["keys"])

	snap := docs.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, meta, snap.Metadata)
	require.Len(t, snap.Fragments, 1)
	assert.Equal(t, "a.b: 1\nc: 2", snap.Fragments[0].Text)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentUploads.WithLabelValues("JSON", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentFragments))
}

func TestIngestPages(t *testing.T) {
	svc, docs, _ := newService(t)

	meta, err := svc.Ingest(context.Background(), "manual.pdf", &extractor.Content{
		Kind:  models.KindPDF,
		Pages: []string{"# Intro\n\nWelcome.", "", "Details here."},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, meta.Extra["pages"])
	assert.Equal(t, 2, meta.FragmentCount)
	assert.Equal(t, 3, docs.Snapshot().Fragments[1].Page)
}

func TestIngestEmptyDocumentKeepsCurrent(t *testing.T) {
	svc, docs, m := newService(t)

	_, err := svc.IngestBytes(context.Background(), "first.json", models.KindJSON, []byte(`[1]`))
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), "scan.pdf", &extractor.Content{
		Kind:  models.KindPDF,
		Pages: []string{"", "  "},
	})
	assert.ErrorIs(t, err, types.ErrEmptyDocument)
	assert.Equal(t, "first.json", docs.Metadata().Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentUploads.WithLabelValues("PDF", "empty")))
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	svc, docs, _ := newService(t)

	_, err := svc.IngestBytes(context.Background(), "broken.json", models.KindJSON, []byte(`{"a":`))
	assert.Error(t, err)

	_, err = svc.IngestBytes(context.Background(), "broken.pdf", models.KindPDF, []byte("not a pdf"))
	assert.Error(t, err)

	assert.Zero(t, docs.Snapshot().Version)
}

func TestIngestFile(t *testing.T) {
	svc, docs, _ := newService(t)

	path := filepath.Join(t.TempDir(), "upload-123")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "doctalk"}`), 0o644))

	meta, err := svc.IngestFile(context.Background(), path, "config.JSON")
	require.NoError(t, err)
	assert.Equal(t, "config.JSON", meta.Title)
	assert.Equal(t, "name: doctalk", docs.Snapshot().Fragments[0].Text)

	_, err = svc.IngestFile(context.Background(), path, "notes.txt")
	assert.ErrorIs(t, err, types.ErrUnsupportedKind)
}

func TestIngestCancelledContext(t *testing.T) {
	svc, docs, _ := newService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.IngestBytes(ctx, "data.json", models.KindJSON, []byte(`[1]`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, docs.Snapshot().Version)
}
