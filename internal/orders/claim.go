package orders

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/correlation"
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/progress"
)

const (
	opClaimedOrder = "claimed-order"
	opAllow        = "allow"
	opClaim        = "claim"
	opClaimCreate  = "claim-create-order"
	opCancelAllow  = "cancel-allow"
)

// ClaimState is a step of the allow, claim, create sequence.
type ClaimState string

const (
	ClaimAllowPending       ClaimState = "allow_pending"
	ClaimClaimPending       ClaimState = "claim_pending"
	ClaimOrderCreatePending ClaimState = "order_create_pending"
	ClaimOrderResolved      ClaimState = "order_resolved"
	ClaimCancelAllowIssued  ClaimState = "cancel_allow_issued"
	ClaimFailed             ClaimState = "failed"
)

type claimFlow struct {
	state     ClaimState
	allowTxID string
	log       zerolog.Logger
}

func (f *claimFlow) advance(next ClaimState) {
	f.log.Debug().Str("from", string(f.state)).Str("to", string(next)).Msg("claim sequence")
	f.state = next
}

func stepExpectation(success, failure string) correlation.Expectation {
	return correlation.Expectation{
		Success:       message.NewActionSet(success),
		Errors:        []correlation.ActionSet{message.NewActionSet(failure)},
		SuccessAction: success,
		ErrorAction:   failure,
	}
}

// PlaceClaimedOrder grants the marketplace an allowance on the dominant
// token, has it claim the allowance and then creates the order. A failed or
// timed-out Allow or Claim releases the allowance with Cancel-Allow and
// returns the original failure; if the release itself fails the result is a
// COMPENSATION_FAILURE wrapping both. Once claimed, the allowance belongs to
// the marketplace, so a failed Create-Order is returned without Cancel-Allow.
func (e *Engine) PlaceClaimedOrder(ctx context.Context, c ClaimOrder) (string, error) {
	if c.Marketplace == "" {
		c.Marketplace = e.processes.Marketplace
	}
	if c.OrderbookID == "" {
		c.OrderbookID = c.Marketplace
	}
	if c.CreatorID == "" {
		c.CreatorID = e.processes.Creator
	}
	if err := required("marketplace", c.Marketplace, "Marketplace"); err != nil {
		return "", err
	}
	if err := c.Order.Validate(); err != nil {
		return "", err
	}

	flow := &claimFlow{state: ClaimAllowPending, log: e.log.With().Str("op", opClaimedOrder).Logger()}
	orderID, err := e.runClaim(ctx, flow, c)
	if err != nil {
		e.finish(opClaimedOrder, err, "")
		return "", err
	}
	e.finish(opClaimedOrder, nil, "Order created!")
	return orderID, nil
}

func (e *Engine) runClaim(ctx context.Context, flow *claimFlow, c ClaimOrder) (string, error) {
	progress.Emit(e.observer, progress.PhaseDispatch, opClaimedOrder, "Allowing marketplace to claim balance...")
	allow, _, err := e.step(ctx, opAllow, correlation.Command{
		Target: c.DominantToken,
		Action: message.ActionAllow,
		Tags: []message.Tag{
			{Name: "Recipient", Value: c.Marketplace},
			{Name: "Quantity", Value: c.Quantity},
		},
	}, []string{c.DominantToken}, stepExpectation(message.ActionAllowSuccess, message.ActionAllowError), e.policies.Step)
	if allow.MessageID == "" {
		// never transmitted, nothing to release
		flow.advance(ClaimFailed)
		return "", err
	}
	flow.allowTxID = allow.MessageID
	if err != nil {
		return "", e.compensate(ctx, flow, c, err)
	}

	flow.advance(ClaimClaimPending)
	progress.Emit(e.observer, progress.PhaseDispatch, opClaimedOrder, "Claiming allowance...")
	claimData, err := jsonData(map[string]any{
		"Pair":      c.Pair(),
		"AllowTxId": flow.allowTxID,
		"Quantity":  c.Quantity,
	})
	if err != nil {
		return "", e.compensate(ctx, flow, c, err)
	}
	_, _, err = e.step(ctx, opClaim, correlation.Command{
		Target: c.Marketplace,
		Action: message.ActionClaim,
		Tags:   []message.Tag{{Name: "AllowTxId", Value: flow.allowTxID}},
		Data:   claimData,
	}, []string{c.Marketplace, c.DominantToken}, stepExpectation(message.ActionClaimSuccess, message.ActionClaimError), e.policies.Step)
	if err != nil {
		return "", e.compensate(ctx, flow, c, err)
	}

	flow.advance(ClaimOrderCreatePending)
	progress.Emit(e.observer, progress.PhaseDispatch, opClaimedOrder, "Creating order...")
	body := map[string]any{
		"Pair":      c.Pair(),
		"AllowTxId": flow.allowTxID,
		"Quantity":  c.Quantity,
	}
	if c.UnitPrice != "" {
		body["Price"] = c.UnitPrice
	}
	createData, err := jsonData(body)
	if err != nil {
		return "", err
	}
	_, outcome, err := e.step(ctx, opClaimCreate, correlation.Command{
		Target: c.Marketplace,
		Action: message.ActionCreateOrder,
		Tags:   []message.Tag{{Name: "AllowTxId", Value: flow.allowTxID}},
		Data:   createData,
	}, []string{c.Marketplace}, orderExpectation(), e.policies.Order)
	flow.advance(ClaimOrderResolved)
	if err != nil {
		return "", err
	}
	return outcome.ResultID, nil
}

// compensate releases the allowance after original ended the sequence.
func (e *Engine) compensate(ctx context.Context, flow *claimFlow, c ClaimOrder, original error) error {
	flow.advance(ClaimCancelAllowIssued)
	progress.Emit(e.observer, progress.PhaseCompensate, opClaimedOrder, "Releasing allowance "+flow.allowTxID)
	flow.log.Warn().Err(original).Str("allow_tx_id", flow.allowTxID).Msg("compensating allowance")

	cmd := correlation.Command{
		Target: c.DominantToken,
		Action: message.ActionCancelAllow,
		Tags: []message.Tag{
			{Name: "AllowTxId", Value: flow.allowTxID},
			{Name: "Recipient", Value: c.Marketplace},
		},
	}
	var (
		d   correlation.Dispatch
		err error
	)
	for send := 1; send <= e.policies.CompensationSends; send++ {
		if d, err = e.submitter.Submit(ctx, cmd); err == nil {
			break
		}
		flow.log.Warn().Err(err).Int("attempt", send).Msg("cancel-allow transmit failed")
	}
	if err == nil {
		var op *correlation.PendingOperation
		op, err = correlation.NewPendingOperation(opCancelAllow, d, []string{c.DominantToken},
			stepExpectation(message.ActionCancelAllowSuccess, message.ActionCancelAllowError))
		if err == nil {
			_, err = e.poller(e.policies.Compensation).Await(ctx, op)
		}
	}
	flow.advance(ClaimFailed)
	if err != nil {
		e.metrics.Compensation("failed")
		flow.log.Error().Err(err).Str("allow_tx_id", flow.allowTxID).Msg("compensation failed")
		return apperrors.CompensationFailure(flow.allowTxID, original, err)
	}
	e.metrics.Compensation("ok")
	return original
}
