package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

// DocumentStore holds the single current document. Readers take a snapshot
// and keep using it even after a newer document is swapped in.
type DocumentStore struct {
	current atomic.Pointer[models.Document]
	mu      sync.Mutex // serializes writers
	now     func() time.Time
}

var (
	_ types.DocumentSource = (*DocumentStore)(nil)
	_ types.DocumentSink   = (*DocumentStore)(nil)
)

func New() *DocumentStore {
	s := &DocumentStore{now: time.Now}
	s.current.Store(&models.Document{
		Fragments: []models.Fragment{},
	})
	return s
}

// Swap publishes doc as the current document under the next version number
// and returns the document it replaced. doc must not be modified afterwards.
func (s *DocumentStore) Swap(doc *models.Document) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()

	next := *doc
	next.Version = prev.Version + 1
	next.LoadedAt = s.now()
	if next.Fragments == nil {
		next.Fragments = []models.Fragment{}
	}
	next.Metadata.FragmentCount = len(next.Fragments)

	s.current.Store(&next)
	return prev
}

// Snapshot returns the current document. It is never nil.
func (s *DocumentStore) Snapshot() *models.Document {
	return s.current.Load()
}

func (s *DocumentStore) Metadata() models.DocumentMetadata {
	return s.current.Load().Metadata
}
