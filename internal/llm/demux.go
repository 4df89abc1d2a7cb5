package llm

import (
	"chat-relay/internal/logger"
	"strings"
)

// EventKind tags a classified stream event
type EventKind int

const (
	// KindStarted signals the provider opened the message
	KindStarted EventKind = iota
	// KindVisibleDelta is answer text to show the user
	KindVisibleDelta
	// KindThinkingDelta is intermediate reasoning text
	KindThinkingDelta
	// KindUsageFinal carries the turn's token counters, emitted once
	KindUsageFinal
	// KindStreamError is a terminal upstream failure
	KindStreamError
)

// Event is one classified stream event. Exactly one payload field is
// meaningful per kind.
type Event struct {
	Kind      EventKind
	MessageID string
	Text      string
	Usage     *Usage
	Err       string
}

// thinkingSentinel marks a text block as reasoning output. Detection is
// a prefix check on the block's opening content; deltas inherit the
// block's classification until it closes.
const thinkingSentinel = "<thinking>"

// Classify consumes a raw provider event stream and demultiplexes it
// into visible, thinking, usage and error events, preserving arrival
// order. The returned channel closes when the turn completes; a usage
// event, if counters were seen, precedes the close. Single-pass, not
// restartable.
func Classify(raw <-chan ProviderEvent) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		var usage Usage
		seenUsage := false
		emittedUsage := false
		inThinking := false

		mergeUsage := func(u *Usage) {
			if u == nil {
				return
			}
			seenUsage = true
			if u.InputTokens > 0 {
				usage.InputTokens = u.InputTokens
			}
			if u.OutputTokens > 0 {
				usage.OutputTokens = u.OutputTokens
			}
		}

		emitUsage := func() {
			if seenUsage && !emittedUsage {
				emittedUsage = true
				final := usage
				out <- Event{Kind: KindUsageFinal, Usage: &final}
			}
		}

		for ev := range raw {
			switch ev.Type {
			case "message_start":
				var messageID string
				if ev.Message != nil {
					messageID = ev.Message.ID
					mergeUsage(ev.Message.Usage)
				}
				out <- Event{Kind: KindStarted, MessageID: messageID}

			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "text" &&
					strings.HasPrefix(ev.ContentBlock.Text, thinkingSentinel) {
					inThinking = true
				}

			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Type != "text_delta" {
					continue
				}
				if inThinking {
					out <- Event{Kind: KindThinkingDelta, Text: ev.Delta.Text}
				} else {
					out <- Event{Kind: KindVisibleDelta, Text: ev.Delta.Text}
				}

			case "content_block_stop":
				inThinking = false

			case "message_delta":
				// Output token counters arrive here on current provider
				// versions
				mergeUsage(ev.Usage)

			case "message_stop":
				if ev.Message != nil {
					mergeUsage(ev.Message.Usage)
				}
				emitUsage()

			case "error":
				msg := "provider stream error"
				if ev.Error != nil && ev.Error.Message != "" {
					msg = ev.Error.Message
				}
				out <- Event{Kind: KindStreamError, Err: msg}
				// The producer feeds an unbuffered channel; draining
				// lets it run to completion and release the response
				// body instead of blocking on a trailing event.
				for range raw {
				}
				return

			case eventStreamFailure:
				msg := "provider stream failed"
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				out <- Event{Kind: KindStreamError, Err: msg}
				for range raw {
				}
				return

			case "ping":
				// keep-alive frame, nothing to forward

			default:
				logger.Log.WithField("event_type", ev.Type).Debug("Ignoring unknown provider event")
			}
		}

		// Some provider versions close the stream without a message_stop
		emitUsage()
	}()

	return out
}
