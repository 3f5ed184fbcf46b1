package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/metrics"
	"github.com/permaweb/ao-ucm/internal/progress"
)

// Policy bounds a polling loop. Delays are fixed between attempts.
type Policy struct {
	MaxAttempts  int
	Delay        time.Duration
	InitialDelay time.Duration
}

// Validate rejects policies that could never poll.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return apperrors.Validation("policy.max_attempts", "max attempts must be at least 1")
	}
	if p.Delay < 0 || p.InitialDelay < 0 {
		return apperrors.Validation("policy.delay", "delays must not be negative")
	}
	return nil
}

// Budget is the worst-case time spent waiting, excluding probe latency.
func (p Policy) Budget() time.Duration {
	return p.InitialDelay + time.Duration(p.MaxAttempts-1)*p.Delay
}

// State is where a PendingOperation sits in its polling lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further polls are allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// ErrClosed is returned when a terminal operation is polled again.
var ErrClosed = errors.New("operation already reached a terminal state")

// PendingOperation tracks one dispatched command until it resolves.
type PendingOperation struct {
	Name          string
	CorrelationID string
	SubmissionID  string
	Targets       []string
	Expect        Expectation
	Attempts      int
	StartedAt     time.Time
	State         State
	Outcome       Outcome
}

// NewPendingOperation validates exp and starts tracking d.
func NewPendingOperation(name string, d Dispatch, targets []string, exp Expectation) (*PendingOperation, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperrors.Validation("targets", "at least one process must be polled")
	}
	return &PendingOperation{
		Name:          name,
		CorrelationID: d.CorrelationID,
		SubmissionID:  d.MessageID,
		Targets:       targets,
		Expect:        exp,
		StartedAt:     time.Now(),
		State:         StateWaiting,
		Outcome:       Outcome{Verdict: Pending, ErrorSet: -1},
	}, nil
}

func (op *PendingOperation) begin() error {
	if op.State.Terminal() {
		return ErrClosed
	}
	op.State = StatePolling
	op.Attempts++
	return nil
}

// record applies one probe result. A pending result on the last allowed
// attempt times the operation out.
func (op *PendingOperation) record(o Outcome, maxAttempts int) (State, error) {
	if op.State != StatePolling {
		return op.State, ErrClosed
	}
	op.Outcome = o
	switch {
	case o.Verdict == Success:
		op.State = StateSucceeded
	case o.Verdict == Error:
		op.State = StateFailed
	case op.Attempts >= maxAttempts:
		op.State = StateTimedOut
	default:
		op.State = StateWaiting
	}
	return op.State, nil
}

// Poller drives PendingOperations to a terminal state.
type Poller struct {
	matcher  *Matcher
	policy   Policy
	log      zerolog.Logger
	metrics  *metrics.Recorder
	observer progress.Observer

	// Sleep suspends between attempts. Replace it to control time in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller builds a poller with policy. A nil observer is allowed.
func NewPoller(m *Matcher, policy Policy, log zerolog.Logger, rec *metrics.Recorder, obs progress.Observer) *Poller {
	return &Poller{matcher: m, policy: policy, log: log, metrics: rec, observer: obs, Sleep: SleepContext}
}

// SleepContext waits d or until ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await polls op until it succeeds, fails or exhausts the policy. An error
// outcome returns REMOTE, exhaustion returns TIMEOUT with the attempt count.
// Reader failures count as pending attempts.
func (p *Poller) Await(ctx context.Context, op *PendingOperation) (Outcome, error) {
	if err := p.policy.Validate(); err != nil {
		return Outcome{}, err
	}
	if op.State.Terminal() {
		return op.Outcome, ErrClosed
	}
	log := p.log.With().Str("op", op.Name).Str("correlation_id", op.CorrelationID).Logger()

	if err := p.Sleep(ctx, p.policy.InitialDelay); err != nil {
		return Outcome{}, err
	}
	for {
		if err := op.begin(); err != nil {
			return op.Outcome, err
		}
		p.metrics.PollAttempt(op.Name)

		outcome := Outcome{Verdict: Pending, ErrorSet: -1}
		msgs, err := p.matcher.Match(ctx, op.Targets, op.CorrelationID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			log.Warn().Err(err).Int("attempt", op.Attempts).Msg("probe failed, treating as pending")
		} else {
			outcome = Classify(op.Expect, msgs, op.SubmissionID)
		}

		state, err := op.record(outcome, p.policy.MaxAttempts)
		if err != nil {
			return op.Outcome, err
		}
		progress.Emit(p.observer, progress.PhasePoll, op.Name,
			fmt.Sprintf("attempt %d/%d observed %s", op.Attempts, p.policy.MaxAttempts, outcome.Observed))
		log.Debug().Int("attempt", op.Attempts).Str("verdict", string(outcome.Verdict)).Stringer("observed", outcome.Observed).Msg("polled")

		switch state {
		case StateSucceeded:
			p.metrics.Outcome(op.Name, string(Success))
			return outcome, nil
		case StateFailed:
			p.metrics.Outcome(op.Name, string(Error))
			log.Warn().Str("verdict", string(Error)).Msg(outcome.Text)
			return outcome, outcome.Err(op.Name)
		case StateTimedOut:
			p.metrics.Outcome(op.Name, "timeout")
			log.Warn().Int("attempt", op.Attempts).Msg("polling exhausted")
			return outcome, apperrors.Timeout(op.Name, op.CorrelationID, op.Attempts)
		}

		if err := p.Sleep(ctx, p.policy.Delay); err != nil {
			return Outcome{}, err
		}
	}
}
