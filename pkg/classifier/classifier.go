// Package classifier defines the natural-language classification boundary
// and provides an OpenAI-compatible chat-completions implementation. The
// tracker and scheduler only ever see the interface; a classifier failure
// is always "no verdict", never an implicit decision.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"parley/pkg/convo"
)

// Classifier produces intent signals and quality scores from chat text.
// Every call may fail or time out; callers must treat errors as the
// absence of a verdict.
type Classifier interface {
	// DetectRequest inspects a customer message (with bounded recent
	// context) for a request or complaint.
	DetectRequest(ctx context.Context, msg convo.Message, recent []convo.Message) (convo.RequestSignal, error)

	// ShouldClose judges whether the conversation represented by its last
	// few messages is finished.
	ShouldClose(ctx context.Context, recent []convo.Message) (convo.CloseVerdict, error)

	// ShouldReopen judges whether a message arriving on a closed
	// conversation is worth reopening for: a new request, a complaint, or
	// any non-trivial content. Bare acknowledgements do not reopen.
	ShouldReopen(ctx context.Context, msg convo.Message) (bool, error)

	// Score produces a quality score for a finished conversation from its
	// full transcript and detected requests.
	Score(ctx context.Context, c convo.Conversation, transcript []convo.Message, requests []convo.Request) (convo.ScoreResult, error)
}

// renderTranscript flattens messages into a plain-text transcript for
// prompt building. Direction labels keep the two parties distinguishable.
func renderTranscript(msgs []convo.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		label := "CUSTOMER"
		if m.Direction == convo.FromAgent {
			label = "AGENT"
		}
		fmt.Fprintf(&b, "[%s %s] %s\n", label, m.Timestamp.Format("15:04:05"), m.Text)
	}
	return b.String()
}
