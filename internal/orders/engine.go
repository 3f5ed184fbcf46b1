// Package orders runs the multi-step settlement operations against remote
// processes: order placement and cancellation, claim-backed placement with
// allowance compensation, deposit-verified placement and orderbook creation.
package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/config"
	"github.com/permaweb/ao-ucm/internal/correlation"
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/metrics"
	"github.com/permaweb/ao-ucm/internal/progress"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// Policies holds the polling budget of each kind of wait.
type Policies struct {
	Order           correlation.Policy
	Step            correlation.Policy
	Deposit         correlation.Policy
	DepositResponse correlation.Policy
	Compensation    correlation.Policy

	// CompensationSends caps transmissions of Cancel-Allow. 1 means no resend.
	CompensationSends int
}

func policy(p config.Policy) correlation.Policy {
	return correlation.Policy{MaxAttempts: p.MaxAttempts, Delay: p.Delay(), InitialDelay: p.InitialDelay()}
}

// PoliciesFromConfig converts the configured retry section.
func PoliciesFromConfig(r config.Retry) Policies {
	return Policies{
		Order:             policy(r.Order),
		Step:              policy(r.Step),
		Deposit:           policy(r.Deposit),
		DepositResponse:   policy(r.DepositResponse),
		Compensation:      policy(r.Compensation),
		CompensationSends: r.Compensation.TransmitAttempts,
	}
}

// Options configures an Engine.
type Options struct {
	Client    ledger.Client
	Signer    wallet.Signer
	Processes config.Processes
	Policies  Policies
	Window    int
	Observer  progress.Observer
	Log       zerolog.Logger
	Metrics   *metrics.Recorder

	// Minter overrides correlation id minting.
	Minter correlation.Minter
	// Sleep overrides the wait between polls and deposit checks.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine runs operations. It holds only read-only configuration and may be
// shared by concurrent callers.
type Engine struct {
	submitter *correlation.Submitter
	spawner   ledger.Spawner
	matcher   *correlation.Matcher
	policies  Policies
	processes config.Processes
	observer  progress.Observer
	log       zerolog.Logger
	metrics   *metrics.Recorder
	sleep     func(ctx context.Context, d time.Duration) error
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, apperrors.Validation("client", "ledger client is required")
	}
	if opts.Signer == nil {
		return nil, apperrors.Validation("signer", "signer is required")
	}
	for _, p := range []correlation.Policy{
		opts.Policies.Order, opts.Policies.Step, opts.Policies.Deposit,
		opts.Policies.DepositResponse, opts.Policies.Compensation,
	} {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Policies.CompensationSends < 1 {
		opts.Policies.CompensationSends = 1
	}
	if opts.Observer == nil {
		opts.Observer = progress.Nop()
	}
	if opts.Sleep == nil {
		opts.Sleep = correlation.SleepContext
	}

	submitter := correlation.NewSubmitter(opts.Client, opts.Signer, opts.Log, opts.Metrics)
	if opts.Minter != nil {
		submitter.Mint = opts.Minter
	}
	return &Engine{
		submitter: submitter,
		spawner:   opts.Client,
		matcher:   correlation.NewMatcher(opts.Client, opts.Window),
		policies:  opts.Policies,
		processes: opts.Processes,
		observer:  opts.Observer,
		log:       opts.Log,
		metrics:   opts.Metrics,
		sleep:     opts.Sleep,
	}, nil
}

func (e *Engine) poller(p correlation.Policy) *correlation.Poller {
	poller := correlation.NewPoller(e.matcher, p, e.log, e.metrics, e.observer)
	poller.Sleep = e.sleep
	return poller
}

// step dispatches cmd and polls targets until exp resolves under p.
func (e *Engine) step(ctx context.Context, name string, cmd correlation.Command, targets []string, exp correlation.Expectation, p correlation.Policy) (correlation.Dispatch, correlation.Outcome, error) {
	d, err := e.submitter.Submit(ctx, cmd)
	if err != nil {
		return correlation.Dispatch{}, correlation.Outcome{}, err
	}
	op, err := correlation.NewPendingOperation(name, d, targets, exp)
	if err != nil {
		return d, correlation.Outcome{}, err
	}
	outcome, err := e.poller(p).Await(ctx, op)
	return d, outcome, err
}

// finish reports the terminal progress event for operation.
func (e *Engine) finish(operation string, err error, successText string) {
	switch {
	case err == nil:
		progress.Emit(e.observer, progress.PhaseSuccess, operation, successText)
	case apperrors.IsCode(err, apperrors.CodeTimeout):
		progress.Emit(e.observer, progress.PhaseTimeout, operation, err.Error())
	default:
		progress.Emit(e.observer, progress.PhaseError, operation, err.Error())
	}
}
