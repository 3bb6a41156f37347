package server

import (
	"encoding/json"
	"strings"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/llm"
)

// Inbound and outbound WebSocket message types.
const (
	TypeChat           = "chat"
	TypeConnection     = "connection"
	TypeDocumentUpdate = "documentUpdate"
	TypeProgress       = "progress"
	TypeResponse       = "response"
	TypeError          = "error"
)

// Client-visible message texts.
const (
	msgConnected         = "Connected successfully"
	msgFoundContent      = "Found relevant content chunks"
	msgUnknownType       = "Unknown message type"
	msgProcessingError   = "Error processing message"
	msgNoDocument        = "No document loaded. Please upload a PDF or JSON file first."
	msgGenerationError   = "Error generating response"
	msgBusy              = "busy"
	msgFileProcessed     = "File processed successfully"
	msgFileProcessFailed = "Error processing file"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// chatText returns the question carried by a chat message.
func (m inboundMessage) chatText() (string, error) {
	var text string
	if err := json.Unmarshal(m.Message, &text); err != nil {
		return "", types.ErrMalformedMessage
	}
	if strings.TrimSpace(text) == "" {
		return "", types.ErrMalformedMessage
	}
	return text, nil
}

type connectionMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	ClientID string `json:"clientId"`
}

type documentUpdateMessage struct {
	Type     string                  `json:"type"`
	Metadata models.DocumentMetadata `json:"metadata"`
}

type progressMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	ChunksFound int    `json:"chunksFound"`
}

type responseMessage struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	IsComplete bool   `json:"isComplete"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(message string) errorMessage {
	return errorMessage{Type: TypeError, Message: message}
}

// eventMessage translates an answer event into its wire form.
func eventMessage(ev llm.AnswerEvent) any {
	switch ev.Kind {
	case llm.EventProgress:
		return progressMessage{Type: TypeProgress, Message: msgFoundContent, ChunksFound: ev.ChunksFound}
	case llm.EventChunk:
		return responseMessage{Type: TypeResponse, Message: ev.Text}
	case llm.EventComplete:
		return responseMessage{Type: TypeResponse, IsComplete: true}
	}
	return newError(ev.Reason)
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// all message types are plain structs
		panic(err)
	}
	return data
}
