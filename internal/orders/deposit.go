package orders

import (
	"context"
	"strconv"

	"github.com/permaweb/ao-ucm/internal/correlation"
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/progress"
)

const (
	opDepositOrder  = "deposit-order"
	opDepositCheck  = "deposit-check"
	opDepositCreate = "deposit-create-order"
)

var depositExpectation = correlation.Expectation{
	Success: message.NewActionSet(message.ActionDepositStatusEvaluated),
	Errors: []correlation.ActionSet{
		message.NewActionSet(message.ActionInputError),
		message.NewActionSet(message.ActionValidationError),
	},
	SuccessAction: message.ActionDepositStatusEvaluated,
}

// VerifyDeposit asks orderbook to evaluate depositTxID until it reports
// Success. Each check is a fresh command polled under the deposit response
// policy; unresolved statuses are rechecked under the deposit policy until
// its attempts run out, which yields DEPOSIT_UNRESOLVED. Input and
// validation rejections end immediately as REMOTE errors.
func (e *Engine) VerifyDeposit(ctx context.Context, orderbook string, pair []string, depositTxID, quantity string) error {
	data, err := jsonData(map[string]any{
		"Pair":        pair,
		"DepositTxId": depositTxID,
		"Quantity":    quantity,
	})
	if err != nil {
		return err
	}
	cmd := correlation.Command{
		Target: orderbook,
		Action: message.ActionCheckDepositStatus,
		Data:   data,
	}

	limit := e.policies.Deposit.MaxAttempts
	last := ""
	for attempt := 1; attempt <= limit; attempt++ {
		_, outcome, err := e.step(ctx, opDepositCheck, cmd, []string{orderbook}, depositExpectation, e.policies.DepositResponse)
		if err != nil {
			return err
		}
		last = message.ValueForAction(outcome.Messages, message.TagStatus, message.ActionDepositStatusEvaluated, "")
		e.metrics.DepositCheck(last)
		progress.Emit(e.observer, progress.PhaseDeposit, opDepositOrder,
			"Deposit check "+strconv.Itoa(attempt)+"/"+strconv.Itoa(limit)+": "+outcome.Text)
		if last == message.StatusSuccess {
			return nil
		}
		e.log.Info().Str("op", opDepositCheck).Int("attempt", attempt).Str("status", last).Msg("deposit not resolved yet")
		if attempt < limit {
			if err := e.sleep(ctx, e.policies.Deposit.Delay); err != nil {
				return err
			}
		}
	}
	return apperrors.DepositUnresolved(depositTxID, limit, last)
}

// PlaceDepositedOrder verifies the deposit backing the order and then
// creates it on the orderbook.
func (e *Engine) PlaceDepositedOrder(ctx context.Context, d DepositOrder) (string, error) {
	if d.CreatorID == "" {
		d.CreatorID = e.processes.Creator
	}
	if err := required("deposit_tx_id", d.DepositTxID, "Deposit ID"); err != nil {
		return "", err
	}
	if err := d.Order.Validate(); err != nil {
		return "", err
	}

	progress.Emit(e.observer, progress.PhaseDispatch, opDepositOrder, "Checking deposit status...")
	if err := e.VerifyDeposit(ctx, d.OrderbookID, d.Pair(), d.DepositTxID, d.Quantity); err != nil {
		e.finish(opDepositOrder, err, "")
		return "", err
	}

	body := map[string]any{
		"Pair":        d.Pair(),
		"DepositTxId": d.DepositTxID,
		"Quantity":    d.Quantity,
	}
	if d.UnitPrice != "" {
		body["Price"] = d.UnitPrice
	}
	data, err := jsonData(body)
	if err != nil {
		return "", err
	}
	progress.Emit(e.observer, progress.PhaseDispatch, opDepositOrder, "Creating order...")
	_, outcome, err := e.step(ctx, opDepositCreate, correlation.Command{
		Target: d.OrderbookID,
		Action: message.ActionCreateOrder,
		Tags:   []message.Tag{{Name: "DepositTxId", Value: d.DepositTxID}},
		Data:   data,
	}, []string{d.OrderbookID}, orderExpectation(), e.policies.Order)
	if err != nil {
		e.finish(opDepositOrder, err, "")
		return "", err
	}
	e.finish(opDepositOrder, nil, outcome.Text)
	return outcome.ResultID, nil
}
