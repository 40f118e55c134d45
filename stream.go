package align

import (
	"context"

	"github.com/turnkit/align/domain"
)

// Event is the sum type ProcessTurnStream emits. Exactly one of Token,
// Done, or Err is populated, mirroring llmgw.Chunk's single-populated-field
// shape.
type Event struct {
	Token *TokenEvent
	Done  *DoneEvent
	Err   *ErrorEvent
}

// TokenEvent carries one chunk of the finalized response text.
type TokenEvent struct {
	Content string
}

// DoneEvent carries the same fields ProcessTurn returns, once the full
// response has been streamed.
type DoneEvent struct {
	domain.AlignmentResult
}

// ErrorEvent reports a pipeline failure; no further events follow it.
type ErrorEvent struct {
	Code    string
	Message string
}

// tokenChunkSize bounds each TokenEvent's length. Spec.md's non-goal is
// real-time streaming of intermediate phases ("only the final response may
// be streamed") — enforcement must see and approve the complete candidate
// response before any of it reaches the caller, so there is no
// provider-token stream to forward here. ProcessTurnStream instead runs
// the ordinary synchronous pipeline to completion and then re-chunks the
// already-approved response text, giving callers incremental delivery
// without ever exposing a pre-enforcement draft.
const tokenChunkSize = 24

// ProcessTurnStream runs ProcessTurn and streams its finalized response in
// fixed-size chunks over the returned channel, terminated by exactly one
// DoneEvent or ErrorEvent. The channel is closed after the terminal event.
func (s *Service) ProcessTurnStream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		result, err := s.ProcessTurn(ctx, req)
		if err != nil {
			send(ctx, out, Event{Err: &ErrorEvent{Code: "pipeline_error", Message: err.Error()}})
			return
		}
		for chunk := range chunkString(result.Response, tokenChunkSize) {
			if !send(ctx, out, Event{Token: &TokenEvent{Content: chunk}}) {
				return
			}
		}
		send(ctx, out, Event{Done: &DoneEvent{AlignmentResult: result}})
	}()
	return out
}

// send delivers ev unless ctx is done first; it reports whether ev was sent.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func chunkString(s string, size int) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		runes := []rune(s)
		for i := 0; i < len(runes); i += size {
			end := i + size
			if end > len(runes) {
				end = len(runes)
			}
			ch <- string(runes[i:end])
		}
	}()
	return ch
}
