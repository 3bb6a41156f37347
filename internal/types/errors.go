package types

import "errors"

// Errors surfaced to clients. Each is converted into a user-visible error
// event at the connection boundary.
var (
	ErrNoDocumentLoaded   = errors.New("no document loaded")
	ErrNoRelevantContent  = errors.New("no relevant content found")
	ErrBackendFailure     = errors.New("generation backend failure")
	ErrTimeout            = errors.New("generation timed out")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrConnectionLost     = errors.New("connection lost")
	ErrUnsupportedKind    = errors.New("unsupported document kind")
	ErrEmptyDocument      = errors.New("document contains no text")
)
