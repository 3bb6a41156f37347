package extractor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

// Content is the text extracted from an uploaded file. Pages is set for PDFs,
// Text for JSON.
type Content struct {
	Kind  models.Kind
	Pages []string
	Text  string
}

// File extracts the content of a file on disk.
func File(path string, kind models.Kind) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Bytes(data, kind)
}

func Bytes(data []byte, kind models.Kind) (*Content, error) {
	switch kind {
	case models.KindPDF:
		pages, err := PDFPages(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		return &Content{Kind: kind, Pages: pages}, nil
	case models.KindJSON:
		text, err := JSONText(data)
		if err != nil {
			return nil, err
		}
		return &Content{Kind: kind, Text: text}, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedKind, kind)
}

// PDFPages returns the plain text of every page, in order. Pages without
// extractable text are returned empty so page numbers stay aligned.
func PDFPages(r io.ReaderAt, size int64) (pages []string, err error) {
	// the PDF reader panics on some malformed files
	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, fmt.Errorf("failed to parse PDF: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	count := reader.NumPage()
	pages = make([]string, count)
	for i := 1; i <= count; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}

func JSONText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("invalid JSON: not valid UTF-8")
	}
	return string(data), nil
}
