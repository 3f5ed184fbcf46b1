package orders

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/message"
)

// Route selects how the creator process forwards the order transfer.
type Route string

const (
	// RouteTransfer sends a Transfer straight from the creator.
	RouteTransfer Route = message.ActionTransfer
	// RouteRunAction has a profile process run the Transfer on the caller's behalf.
	RouteRunAction Route = message.ActionRunAction
)

// Order is a request to place an order on an orderbook.
type Order struct {
	OrderbookID   string
	CreatorID     string
	DominantToken string
	SwapToken     string
	Quantity      string
	UnitPrice     string // empty for market orders
	Denomination  string
	Route         Route
}

// Pair lists the traded tokens, dominant first.
func (o Order) Pair() []string { return []string{o.DominantToken, o.SwapToken} }

func required(field, value, label string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.Validation(field, label+" is required")
	}
	return nil
}

func positiveDecimal(field, value, label string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return apperrors.Validation(field, label+" is invalid")
	}
	if !d.IsPositive() {
		return apperrors.Validation(field, label+" must be positive")
	}
	return nil
}

// Validate checks the fields every placement needs.
func (o Order) Validate() error {
	for _, f := range [][3]string{
		{"orderbook_id", o.OrderbookID, "Orderbook ID"},
		{"creator_id", o.CreatorID, "Profile ID"},
		{"dominant_token", o.DominantToken, "Dominant token"},
		{"swap_token", o.SwapToken, "Swap token"},
		{"quantity", o.Quantity, "Quantity"},
	} {
		if err := required(f[0], f[1], f[2]); err != nil {
			return err
		}
	}
	if err := positiveDecimal("quantity", o.Quantity, "Quantity"); err != nil {
		return err
	}
	if o.UnitPrice != "" {
		if err := positiveDecimal("unit_price", o.UnitPrice, "Unit price"); err != nil {
			return err
		}
	}
	if o.Denomination != "" {
		d, err := decimal.NewFromString(o.Denomination)
		if err != nil || !d.IsInteger() || d.IsNegative() {
			return apperrors.Validation("denomination", "Denomination is invalid")
		}
	}
	switch o.Route {
	case "", RouteTransfer, RouteRunAction:
	default:
		return apperrors.Validation("route", "unsupported route "+string(o.Route))
	}
	return nil
}

// CancelRequest withdraws an open order.
type CancelRequest struct {
	OrderbookID   string
	OrderID       string
	CreatorID     string
	DominantToken string
	SwapToken     string
}

// Validate checks that every field is present.
func (c CancelRequest) Validate() error {
	for _, f := range [][3]string{
		{"orderbook_id", c.OrderbookID, "Orderbook ID"},
		{"order_id", c.OrderID, "Order ID"},
		{"creator_id", c.CreatorID, "Profile ID"},
		{"dominant_token", c.DominantToken, "Dominant token"},
		{"swap_token", c.SwapToken, "Swap token"},
	} {
		if err := required(f[0], f[1], f[2]); err != nil {
			return err
		}
	}
	return nil
}

// ClaimOrder places an order funded by an allowance the marketplace claims.
// Marketplace falls back to the configured process.
type ClaimOrder struct {
	Order
	Marketplace string
}

// DepositOrder places an order funded by an already made deposit.
type DepositOrder struct {
	Order
	DepositTxID string
}

// OrderbookSpec describes a new asset orderbook.
type OrderbookSpec struct {
	AssetID      string
	CollectionID string
	WriteToAsset bool
}

// Orderbook identifies the processes CreateOrderbook spawned.
type Orderbook struct {
	OrderbookID string
	ActivityID  string
}
