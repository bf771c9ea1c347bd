// Package stream normalizes provider chunk streams into the canonical
// event sequence. Whatever the source does (clean close, mid-stream error,
// duplicate tool calls, abrupt cancellation), the output carries exactly
// one terminal event and it is always the last one before close.
package stream

import (
	"context"

	"coil/internal/logging"
	"coil/internal/provider"
	"coil/internal/types"
)

// Normalize consumes one provider stream and yields canonical events. The
// returned channel is closed immediately after its single terminal event:
// final on source close (with the last observed finish reason, "STOP" when
// the source never reported one), error on a source error (the error is
// absorbed, never re-raised), or cancelled as soon as ctx is done, at
// which point the source is no longer read.
func Normalize(ctx context.Context, chunks <-chan provider.Chunk, errs <-chan error) <-chan types.StreamEvent {
	out := make(chan types.StreamEvent, 64)

	go func() {
		defer close(out)

		seenCalls := make(map[string]bool)
		finish := ""
		emitted := 0

		emit := func(e types.StreamEvent) bool {
			select {
			case out <- e:
				emitted++
				return true
			case <-ctx.Done():
				return false
			}
		}
		// Terminal delivery ignores ctx so the guarantee holds even for a
		// consumer that stopped reading after cancelling.
		terminal := func(e types.StreamEvent) {
			out <- e
		}

		for {
			select {
			case <-ctx.Done():
				logging.Stream("cancelled after %d events", emitted)
				terminal(types.CancelledEvent())
				return

			case err, ok := <-errs:
				if !ok {
					// Error channel closed first; keep draining chunks.
					errs = nil
					continue
				}
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					terminal(types.CancelledEvent())
					return
				}
				logging.Stream("source failed after %d events: %v", emitted, err)
				terminal(types.ErroredEvent(err))
				return

			case chunk, ok := <-chunks:
				if !ok {
					// Source is done. A late error beats a clean finish.
					if err := pendingError(errs); err != nil {
						if ctx.Err() != nil {
							terminal(types.CancelledEvent())
							return
						}
						logging.Stream("source failed at close: %v", err)
						terminal(types.ErroredEvent(err))
						return
					}
					terminal(types.FinishedEvent(finish, nil))
					return
				}

				switch {
				case chunk.TextDelta != "":
					if !emit(types.ContentDeltaEvent(chunk.TextDelta)) {
						terminal(types.CancelledEvent())
						return
					}
				case chunk.Thought != "":
					if !emit(types.ThoughtEvent(chunk.Thought)) {
						terminal(types.CancelledEvent())
						return
					}
				case chunk.ToolCall != nil:
					call := *chunk.ToolCall
					if seenCalls[call.CallID] {
						logging.StreamDebug("dropping duplicate tool call %s (%s)", call.CallID, call.Name)
						continue
					}
					seenCalls[call.CallID] = true
					if !emit(types.ToolCallEvent(call.Clone())) {
						terminal(types.CancelledEvent())
						return
					}
				case chunk.Usage != nil:
					if !emit(types.UsageEvent(*chunk.Usage)) {
						terminal(types.CancelledEvent())
						return
					}
				case chunk.FinishReason != "":
					finish = chunk.FinishReason
				}
			}
		}
	}()

	return out
}

// pendingError does a non-blocking read for an error that raced the chunk
// channel close.
func pendingError(errs <-chan error) error {
	if errs == nil {
		return nil
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
