package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// EventSource is a vendor event iterator. Both SDKs' ssestream.Stream types
// satisfy it, as do the raw HTTP sources in internal/transport.
type EventSource[E any] interface {
	Next() bool
	Current() E
	Err() error
	Close() error
}

// OpenFunc starts the vendor request. It is invoked lazily on the first pull
// with a context carrying the request timeout.
type OpenFunc[E any] func(ctx context.Context) (EventSource[E], error)

// Translator maps one vendor event to canonical chunks. A returned error
// fails the stream with STREAMING_ERROR.
type Translator[E any] interface {
	Translate(ev E, emit *Emitter) error
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc[E any] func(ev E, emit *Emitter) error

// Translate implements Translator.
func (f TranslatorFunc[E]) Translate(ev E, emit *Emitter) error { return f(ev, emit) }

type chunkStream[E any] struct {
	mu      sync.Mutex
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	open    OpenFunc[E]
	src     EventSource[E]
	tr      Translator[E]
	emit    Emitter
	closed  bool
}

// NewStream builds a ChunkStream on top of a vendor event source. It owns
// the lifecycle rules every adapter shares:
//   - the request is opened on the first Next call
//   - timeout (if > 0) bounds the whole request and its expiry yields a
//     STREAMING_ERROR chunk
//   - cancellation of ctx ends the stream with io.EOF and no error chunk
//   - transport and decode failures yield exactly one STREAMING_ERROR chunk
//   - a source ending without an explicit stop is finished by the emitter,
//     which synthesizes ends for open parts
func NewStream[E any](ctx context.Context, timeout time.Duration, open OpenFunc[E], tr Translator[E]) ChunkStream {
	return &chunkStream[E]{parent: ctx, timeout: timeout, open: open, tr: tr}
}

func (s *chunkStream[E]) Next() (core.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.parent.Err() != nil {
			s.emit.drop()
			s.emit.finished = true
			s.release()
			return core.Chunk{}, io.EOF
		}
		if c, ok := s.emit.pop(); ok {
			return c, nil
		}
		if s.emit.Finished() || s.closed {
			s.release()
			return core.Chunk{}, io.EOF
		}
		if s.src == nil {
			if err := s.start(); err != nil {
				s.fail(err)
				continue
			}
		}
		if !s.src.Next() {
			if err := s.src.Err(); err != nil {
				s.fail(err)
				continue
			}
			if s.ctx.Err() != nil {
				s.fail(s.ctx.Err())
				continue
			}
			s.emit.Finish()
			continue
		}
		if err := s.tr.Translate(s.src.Current(), &s.emit); err != nil {
			s.fail(fmt.Errorf("decode event: %w", err))
		}
	}
}

func (s *chunkStream[E]) start() error {
	if s.timeout > 0 {
		s.ctx, s.cancel = context.WithTimeout(s.parent, s.timeout)
	} else {
		s.ctx, s.cancel = context.WithCancel(s.parent)
	}
	src, err := s.open(s.ctx)
	if err != nil {
		return err
	}
	if src == nil {
		return errors.New("no event source")
	}
	s.src = src
	return nil
}

// fail classifies err. Caller cancellation is left to the next loop
// iteration which ends the stream silently.
func (s *chunkStream[E]) fail(err error) {
	if s.parent.Err() != nil {
		return
	}
	if s.ctx != nil && errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		s.emit.Fail(&core.Error{
			Kind:    core.ErrStreaming,
			Message: fmt.Sprintf("request timed out after %s", s.timeout),
			Raw:     context.DeadlineExceeded,
		})
		return
	}
	s.emit.Fail(core.WrapError(core.ErrStreaming, err))
}

func (s *chunkStream[E]) release() {
	if s.src != nil {
		_ = s.src.Close()
		s.src = nil
		s.closed = true
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *chunkStream[E]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.emit.drop()
	s.release()
	return nil
}
