// Package correlation dispatches commands and reconciles their downstream
// effects across process logs.
package correlation

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/metrics"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// Command is an outbound instruction to a single process.
type Command struct {
	Target string
	Action string
	Tags   []message.Tag
	Data   string

	// Build, when set, produces Data once the correlation id is known.
	Build func(correlationID string) (string, error)

	// CorrelationTag names the tag carrying the id. Group-Id when empty.
	CorrelationTag string
}

// Dispatch identifies a transmitted command.
type Dispatch struct {
	MessageID     string
	CorrelationID string
}

// Submitter mints correlation ids and hands commands to the ledger.
type Submitter struct {
	client  ledger.Submitter
	signer  wallet.Signer
	log     zerolog.Logger
	metrics *metrics.Recorder

	// Mint defaults to UUIDv7.
	Mint Minter
}

// NewSubmitter binds a ledger client to the signer commands go out under.
func NewSubmitter(client ledger.Submitter, signer wallet.Signer, log zerolog.Logger, rec *metrics.Recorder) *Submitter {
	return &Submitter{client: client, signer: signer, log: log, metrics: rec, Mint: UUIDv7}
}

// Signer returns the identity commands are signed with.
func (s *Submitter) Signer() wallet.Signer { return s.signer }

// Submit transmits cmd once. Failures come back as TRANSMISSION errors and
// are never retried here.
func (s *Submitter) Submit(ctx context.Context, cmd Command) (Dispatch, error) {
	if cmd.Target == "" {
		return Dispatch{}, apperrors.Validation("target", "command target is required")
	}
	if cmd.Action == "" {
		return Dispatch{}, apperrors.Validation("action", "command action is required")
	}
	if s.signer == nil {
		return Dispatch{}, apperrors.Validation("signer", "no signer configured")
	}

	correlationID := s.Mint()
	tagName := cmd.CorrelationTag
	if tagName == "" {
		tagName = message.TagGroupID
	}

	data := cmd.Data
	if cmd.Build != nil {
		built, err := cmd.Build(correlationID)
		if err != nil {
			return Dispatch{}, apperrors.Wrap(apperrors.CodeValidation, "build "+cmd.Action+" payload", err)
		}
		data = built
	}

	tags := make([]message.Tag, 0, len(cmd.Tags)+2)
	tags = append(tags, message.Tag{Name: message.TagAction, Value: cmd.Action})
	for _, tag := range cmd.Tags {
		if tag.Name == message.TagAction || tag.Name == tagName {
			continue
		}
		tags = append(tags, tag)
	}
	tags = append(tags, message.Tag{Name: tagName, Value: correlationID})

	id, err := s.client.Submit(ctx, ledger.Outbound{Target: cmd.Target, Tags: tags, Data: data}, s.signer)
	if err != nil {
		s.metrics.Command(cmd.Action, "error")
		s.log.Error().Err(err).Str("process", cmd.Target).Str("action", cmd.Action).Str("correlation_id", correlationID).Msg("dispatch failed")
		return Dispatch{}, apperrors.Transmission(cmd.Action, err)
	}
	s.metrics.Command(cmd.Action, "ok")
	s.log.Info().Str("process", cmd.Target).Str("action", cmd.Action).Str("correlation_id", correlationID).Str("id", id).Msg("dispatched command")
	return Dispatch{MessageID: id, CorrelationID: correlationID}, nil
}
