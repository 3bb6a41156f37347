package llm

type EventKind int

const (
	EventProgress EventKind = iota
	EventChunk
	EventComplete
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventChunk:
		return "chunk"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// AnswerEvent is one step of a streamed answer. ChunksFound is set on
// progress events, Text on chunks, Reason and Err on failures.
type AnswerEvent struct {
	Kind        EventKind
	ChunksFound int
	Text        string
	Reason      string
	Err         error
}

func (e AnswerEvent) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventFailed
}
