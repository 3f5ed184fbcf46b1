package orders

import (
	"context"
	"encoding/json"

	"github.com/permaweb/ao-ucm/internal/correlation"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/progress"
)

const (
	opCreateOrder = "create-order"
	opCancelOrder = "cancel-order"
)

// Forwarded tags understood by the orderbook.
const (
	tagOrderAction   = "X-Order-Action"
	tagDominantToken = "X-Dominant-Token"
	tagSwapToken     = "X-Swap-Token"
	tagPrice         = "X-Price"
	tagDenomination  = "X-Transfer-Denomination"
)

func orderExpectation(base ...string) correlation.Expectation {
	return correlation.Expectation{
		Success:       message.NewActionSet(append(base, message.ActionOrderSuccess)...),
		Errors:        []correlation.ActionSet{message.NewActionSet(append(base, message.ActionOrderError)...)},
		SuccessAction: message.ActionOrderSuccess,
		ErrorAction:   message.ActionOrderError,
		ResultTag:     message.TagOrderID,
	}
}

func jsonData(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CreateOrder transfers the dominant token to the orderbook with the order
// details forwarded, then waits for the orderbook's verdict. It returns the
// order id, or the transfer id when the orderbook reports none.
func (e *Engine) CreateOrder(ctx context.Context, o Order) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	route := o.Route
	if route == "" {
		route = RouteTransfer
	}

	tags := []message.Tag{
		{Name: "Target", Value: o.DominantToken},
		{Name: "Recipient", Value: o.OrderbookID},
		{Name: "Quantity", Value: o.Quantity},
		{Name: tagOrderAction, Value: message.ActionCreateOrder},
		{Name: tagDominantToken, Value: o.DominantToken},
		{Name: tagSwapToken, Value: o.SwapToken},
	}
	if o.UnitPrice != "" {
		tags = append(tags, message.Tag{Name: tagPrice, Value: o.UnitPrice})
	}
	if o.Denomination != "" {
		tags = append(tags, message.Tag{Name: tagDenomination, Value: o.Denomination})
	}

	cmd := correlation.Command{
		Target:         o.CreatorID,
		Action:         string(route),
		Tags:           tags,
		CorrelationTag: message.TagForwardedGroupID,
	}
	targets := []string{o.CreatorID, o.OrderbookID}
	exp := orderExpectation(message.ActionTransfer)

	if route == RouteRunAction {
		cmd.Tags = append(cmd.Tags,
			message.Tag{Name: "ForwardTo", Value: o.DominantToken},
			message.Tag{Name: "ForwardAction", Value: message.ActionTransfer},
		)
		data, err := jsonData(map[string]any{"Target": o.DominantToken, "Action": message.ActionTransfer, "Input": map[string]any{}})
		if err != nil {
			return "", err
		}
		cmd.Data = data
		targets = []string{o.OrderbookID}
		exp = orderExpectation()
	}

	progress.Emit(e.observer, progress.PhaseDispatch, opCreateOrder, "Processing your order...")
	_, outcome, err := e.step(ctx, opCreateOrder, cmd, targets, exp, e.policies.Order)
	if err != nil {
		e.finish(opCreateOrder, err, "")
		return "", err
	}
	e.finish(opCreateOrder, nil, outcome.Text)
	return outcome.ResultID, nil
}

// CancelOrder asks the creator to forward a Cancel-Order to the orderbook.
// It does not wait for the orderbook; the returned dispatch carries the
// correlation id for callers that want to.
func (e *Engine) CancelOrder(ctx context.Context, c CancelRequest) (correlation.Dispatch, error) {
	if err := c.Validate(); err != nil {
		return correlation.Dispatch{}, err
	}
	cmd := correlation.Command{
		Target: c.CreatorID,
		Action: message.ActionRunAction,
		Tags: []message.Tag{
			{Name: "ForwardTo", Value: c.OrderbookID},
			{Name: "ForwardAction", Value: message.ActionCancelOrder},
		},
		CorrelationTag: message.TagForwardedGroupID,
		Build: func(correlationID string) (string, error) {
			return jsonData(map[string]any{
				"Target": c.OrderbookID,
				"Action": message.ActionCancelOrder,
				"Input": map[string]any{
					"Pair":                      []string{c.DominantToken, c.SwapToken},
					"OrderTxId":                 c.OrderID,
					message.TagForwardedGroupID: correlationID,
				},
			})
		},
	}

	progress.Emit(e.observer, progress.PhaseDispatch, opCancelOrder, "Cancelling your order...")
	d, err := e.submitter.Submit(ctx, cmd)
	if err != nil {
		e.finish(opCancelOrder, err, "")
		return correlation.Dispatch{}, err
	}
	e.finish(opCancelOrder, nil, "Cancel requested")
	return d, nil
}
