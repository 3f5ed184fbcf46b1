package correlation

import (
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/message"
)

// Verdict is the classification of one poll.
type Verdict string

const (
	Pending Verdict = "pending"
	Success Verdict = "success"
	Error   Verdict = "error"
)

const (
	defaultSuccessText = "operation succeeded"
	defaultErrorText   = "operation failed"
)

// Expectation declares which observed action sets end an operation.
type Expectation struct {
	Success ActionSet
	Errors  []ActionSet

	// SuccessAction and ErrorAction designate the message whose tags carry
	// the result id and human-readable text.
	SuccessAction string
	ErrorAction   string

	// ResultTag is read from the SuccessAction message. Empty means the
	// submission id is the result.
	ResultTag string
}

// ActionSet is re-exported for call-site brevity.
type ActionSet = message.ActionSet

// Validate checks that the outcome sets are non-empty and pairwise distinct.
func (e Expectation) Validate() error {
	if len(e.Success) == 0 {
		return apperrors.Validation("expectation.success", "success set is empty")
	}
	if len(e.Errors) == 0 {
		return apperrors.Validation("expectation.errors", "no error set declared")
	}
	for i, set := range e.Errors {
		if len(set) == 0 {
			return apperrors.Validation("expectation.errors", "error set is empty")
		}
		if set.Equal(e.Success) {
			return apperrors.Validation("expectation.errors", "error set "+set.String()+" equals the success set")
		}
		for _, other := range e.Errors[:i] {
			if set.Equal(other) {
				return apperrors.Validation("expectation.errors", "duplicate error set "+set.String())
			}
		}
	}
	return nil
}

// Outcome is the classification of the matched messages.
type Outcome struct {
	Verdict  Verdict
	Observed ActionSet
	Messages []message.Message

	// ErrorSet is the index into Expectation.Errors that matched.
	ErrorSet int

	ResultID string
	Text     string
}

// Terminal reports whether the outcome ends polling.
func (o Outcome) Terminal() bool { return o.Verdict != Pending }

// Err returns a REMOTE error carrying the remote text for error outcomes.
func (o Outcome) Err(operation string) error {
	if o.Verdict != Error {
		return nil
	}
	return apperrors.Remote(operation, o.Text)
}

// Classify compares the distinct actions in msgs against exp. Only exact set
// equality is terminal; a partial or surplus observation stays pending.
func Classify(exp Expectation, msgs []message.Message, submissionID string) Outcome {
	observed := message.Observed(msgs)
	out := Outcome{Verdict: Pending, Observed: observed, Messages: msgs, ErrorSet: -1}

	if observed.Equal(exp.Success) {
		out.Verdict = Success
		out.ResultID = submissionID
		if exp.ResultTag != "" {
			out.ResultID = message.ValueForAction(msgs, exp.ResultTag, exp.SuccessAction, submissionID)
		}
		out.Text = designatedText(msgs, exp.SuccessAction, defaultSuccessText)
		return out
	}
	for i, set := range exp.Errors {
		if observed.Equal(set) {
			out.Verdict = Error
			out.ErrorSet = i
			action := exp.ErrorAction
			if !set.Contains(action) {
				action = ""
			}
			out.Text = designatedText(msgs, action, defaultErrorText)
			return out
		}
	}
	return out
}

// designatedText returns the Message tag of the first message with action,
// or of the first message carrying one when action is empty.
func designatedText(msgs []message.Message, action, def string) string {
	for _, msg := range msgs {
		if action != "" && msg.Action() != action {
			continue
		}
		if v, ok := msg.Tag(message.TagMessage); ok && v != "" {
			return v
		}
		if action != "" {
			return def
		}
	}
	return def
}
