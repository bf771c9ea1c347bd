package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"coil/internal/logging"
	"coil/internal/store"
	"coil/internal/tools"
	"coil/internal/types"
)

// DefaultMaxToolRounds bounds how many model/tool round trips one user
// input may trigger before the driver gives up.
const DefaultMaxToolRounds = 8

// ErrTooManyToolRounds is returned when the model keeps requesting tools
// past the round limit.
var ErrTooManyToolRounds = errors.New("session: too many tool rounds")

// Driver runs complete exchanges: it feeds user input to the session,
// dispatches the tool calls each turn requests, and loops tool results
// back in until the model finishes with plain text. It also mirrors the
// transcript to durable storage, which the session itself never touches.
//
// Handle, Archive, Dispatcher, and OnToolResult are all optional. With a
// nil Dispatcher a turn that requests tools fails; the rest degrade to
// no-ops. Turn indices for the archive come from the session file length,
// so mirroring stays stable across restarts.
type Driver struct {
	Session       *Session
	Dispatcher    *tools.Dispatcher
	Handle        *store.SessionHandle
	Archive       *store.Archive
	MaxToolRounds int

	// OnToolResult observes each request/response pair after dispatch,
	// before the results are fed back to the model.
	OnToolResult func(req types.ToolCallRequest, resp types.ToolCallResponse)

	turnSeq int
}

// Run executes one full exchange, forwarding every event to sink. Turn
// failures arrive as error events, not as a returned error; Run itself
// errors only when the driver cannot proceed at all.
func (d *Driver) Run(ctx context.Context, input any, sink func(types.StreamEvent)) error {
	if d.Session == nil {
		return errors.New("session: driver has no session")
	}

	audit := logging.AuditWithSession(d.sessionID())
	audit.TurnStart()
	start := time.Now()
	err := d.run(ctx, input, sink)
	audit.TurnEnd(time.Since(start), err)
	return err
}

func (d *Driver) run(ctx context.Context, input any, sink func(types.StreamEvent)) error {
	limit := d.MaxToolRounds
	if limit <= 0 {
		limit = DefaultMaxToolRounds
	}

	next := input
	for round := 0; ; round++ {
		if round >= limit {
			return fmt.Errorf("%w: gave up after %d rounds", ErrTooManyToolRounds, limit)
		}

		msg, err := NormalizeInput(next)
		if err != nil {
			return err
		}
		d.mirror(msg)

		terminal, calls := d.runTurn(ctx, msg, sink)
		if !terminal.IsTerminal() {
			return errors.New("session: turn ended without a terminal event")
		}
		if terminal.Kind != types.EventFinished {
			return nil
		}
		if terminal.Message != nil {
			d.mirror(*terminal.Message)
		}
		if len(calls) == 0 {
			return nil
		}
		if d.Dispatcher == nil {
			return fmt.Errorf("session: model requested %d tool call(s) but no dispatcher is configured", len(calls))
		}

		logging.Session("round %d: dispatching %d tool call(s)", round, len(calls))
		responses := d.dispatchAll(ctx, calls)

		var frags []types.Fragment
		for i, resp := range responses {
			if d.OnToolResult != nil {
				d.OnToolResult(calls[i], resp)
			}
			frags = append(frags, resp.Fragments...)
		}
		next = frags
	}
}

// runTurn drains one session turn, forwarding events and collecting the
// pieces the loop needs: requested tool calls, reported usage, and the
// terminal event.
func (d *Driver) runTurn(ctx context.Context, msg types.Message, sink func(types.StreamEvent)) (types.StreamEvent, []types.ToolCallRequest) {
	var terminal types.StreamEvent
	var calls []types.ToolCallRequest

	for ev := range d.Session.Run(ctx, msg) {
		switch ev.Kind {
		case types.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, ev.ToolCall.Clone())
			}
		case types.EventUsage:
			if ev.Usage != nil {
				d.recordUsage(*ev.Usage)
			}
		}
		if ev.IsTerminal() {
			terminal = ev
		}
		if sink != nil {
			sink(ev)
		}
	}
	return terminal, calls
}

// dispatchAll executes the turn's tool calls in parallel. Responses keep
// request order regardless of completion order, so the feedback message
// lines results up with the calls the model made.
func (d *Driver) dispatchAll(ctx context.Context, calls []types.ToolCallRequest) []types.ToolCallResponse {
	responses := make([]types.ToolCallResponse, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			responses[i] = d.Dispatcher.Dispatch(gctx, call)
			return nil
		})
	}
	// Dispatch converts execution failures into response payloads, so the
	// group never carries an error.
	_ = g.Wait()
	return responses
}

// sessionID is the key durable records are filed under: the handle's id
// when the conversation has a session file, so archive rows and the file
// stay joined across restarts, and the runtime session id otherwise.
func (d *Driver) sessionID() string {
	if d.Handle != nil {
		return d.Handle.ID()
	}
	return d.Session.ID()
}

// mirror appends one message to the durable transcript. The transcript is
// append-only and keeps everything, including turns that compression later
// rewrites in memory. Mirror failures are logged and swallowed; losing a
// transcript line must not kill a live conversation.
func (d *Driver) mirror(msg types.Message) {
	if d.Handle == nil && d.Archive == nil {
		return
	}

	turn := d.turnSeq
	if d.Handle != nil {
		turn = d.Handle.Len()
	}
	d.turnSeq = turn + 1

	if d.Archive != nil {
		if err := d.Archive.RecordTurn(d.sessionID(), turn, string(msg.Role), renderContent(msg)); err != nil {
			logging.SessionWarn("archive mirror failed: %v", err)
		}
	}
	if d.Handle != nil {
		if err := d.Handle.Append(msg); err != nil {
			logging.SessionWarn("session file mirror failed: %v", err)
		}
	}
}

func (d *Driver) recordUsage(u types.UsageMetadata) {
	if d.Archive == nil {
		return
	}
	err := d.Archive.RecordUsage(d.sessionID(), d.Session.ProviderID(), d.Session.ModelID(), u)
	if err != nil {
		logging.SessionWarn("usage record failed: %v", err)
	}
}

// renderContent flattens a message for the archive's content column:
// plain text for text-only messages, JSON for anything structured.
func renderContent(m types.Message) string {
	textOnly := true
	for _, f := range m.Fragments {
		if f.Kind != types.FragmentText {
			textOnly = false
			break
		}
	}
	if textOnly {
		return m.Text()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m.Text()
	}
	return string(b)
}
