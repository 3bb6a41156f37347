package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

// Failure reasons reported to clients.
const (
	ReasonNoRelevantContent = "No relevant content found"
	ReasonBackendFailure    = "Error generating response"
	ReasonTimeout           = "timeout"
)

type CoordinatorConfig struct {
	BatchSize   int           // fragments per backend call
	Timeout     time.Duration // used when a request carries none
	CiteSources bool
}

// Request is one question against a fixed set of ranked fragments.
type Request struct {
	Query     string
	Metadata  models.DocumentMetadata
	Fragments []models.RankedFragment
	Timeout   time.Duration
}

// Coordinator turns a question and its fragments into a stream of answer
// events, calling the generator once per batch of fragments.
type Coordinator struct {
	config    CoordinatorConfig
	generator types.Generator
	log       *zap.Logger
}

func NewCoordinator(generator types.Generator, config CoordinatorConfig, log *zap.Logger) *Coordinator {
	if config.BatchSize <= 0 {
		config.BatchSize = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Coordinator{
		config:    config,
		generator: generator,
		log:       log,
	}
}

// Answer starts generating and returns the event stream. The stream holds
// one progress event, the chunks in order and one terminal event, then is
// closed. If ctx is cancelled the stream is closed without a terminal event.
func (c *Coordinator) Answer(ctx context.Context, req Request) <-chan AnswerEvent {
	events := make(chan AnswerEvent, 16)
	go func() {
		defer close(events)
		c.run(ctx, req, events)
	}()
	return events
}

func (c *Coordinator) run(ctx context.Context, req Request, events chan<- AnswerEvent) {
	emit := func(ev AnswerEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if len(req.Fragments) == 0 {
		emit(AnswerEvent{Kind: EventFailed, Reason: ReasonNoRelevantContent, Err: types.ErrNoRelevantContent})
		return
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !emit(AnswerEvent{Kind: EventProgress, ChunksFound: len(req.Fragments)}) {
		return
	}

	for start := 0; start < len(req.Fragments); start += c.config.BatchSize {
		batch := req.Fragments[start:min(start+c.config.BatchSize, len(req.Fragments))]

		prompt, err := BuildPrompt(req.Metadata, req.Query, batch, c.config.CiteSources)
		if err != nil {
			c.fail(ctx, emit, err)
			return
		}

		err = c.generator.StreamGenerate(genCtx, prompt, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			if !emit(AnswerEvent{Kind: EventChunk, Text: chunk}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			if genCtx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("%w: %w", genCtx.Err(), err)
			}
			c.fail(ctx, emit, err)
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	emit(AnswerEvent{Kind: EventComplete})
}

func (c *Coordinator) fail(ctx context.Context, emit func(AnswerEvent) bool, err error) {
	switch {
	case ctx.Err() != nil:
		c.log.Debug("generation abandoned", zap.Error(ctx.Err()))
	case errors.Is(err, context.DeadlineExceeded):
		c.log.Warn("generation timed out", zap.Error(err))
		emit(AnswerEvent{Kind: EventFailed, Reason: ReasonTimeout, Err: types.ErrTimeout})
	default:
		if !errors.Is(err, types.ErrBackendFailure) {
			err = fmt.Errorf("%w: %v", types.ErrBackendFailure, err)
		}
		c.log.Error("generation failed", zap.Error(err))
		emit(AnswerEvent{Kind: EventFailed, Reason: ReasonBackendFailure, Err: err})
	}
}
