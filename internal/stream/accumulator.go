package stream

import "strings"

// Accumulator assembles a run of token fragments into one finalized assistant
// message and suppresses duplicate finalizations. The orchestrator streams an
// answer token by token and may then repeat the full text in the terminal
// event; raw string equality against the last finalized text is the only
// dedup signal the wire offers (it carries no message identifiers).
//
// Not safe for concurrent use. All mutation happens on the dispatch path, so
// calls are ordered exactly as events arrive.
type Accumulator struct {
	buf       strings.Builder
	open      bool
	lastFinal string
}

// Append adds one token fragment, opening a buffer if none is open. It
// returns the concatenated partial text so far and whether this fragment
// started a new stream.
func (a *Accumulator) Append(content string) (partial string, started bool) {
	if !a.open {
		a.open = true
		started = true
	}
	a.buf.WriteString(content)
	return a.buf.String(), started
}

// Open reports whether a token stream is in progress.
func (a *Accumulator) Open() bool {
	return a.open
}

// Flush closes the open buffer and finalizes its text. It returns the
// finalized message and true, or "" and false when no buffer was open or the
// text was empty or identical to the previous finalized message.
func (a *Accumulator) Flush() (string, bool) {
	if !a.open {
		return "", false
	}
	text := a.buf.String()
	a.buf.Reset()
	a.open = false
	return a.Finalize(text)
}

// Finalize records text as the latest finalized message unless it trims to
// empty or repeats the previous one. Used both by Flush and for terminal
// payloads (results.final_response, done.message) that may mirror the
// streamed text.
func (a *Accumulator) Finalize(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || text == a.lastFinal {
		return "", false
	}
	a.lastFinal = text
	return text, true
}

// LastFinal returns the most recent finalized text.
func (a *Accumulator) LastFinal() string {
	return a.lastFinal
}

// Abandon discards an open buffer without finalizing, used when the
// connection drops mid-stream.
func (a *Accumulator) Abandon() {
	a.buf.Reset()
	a.open = false
}
