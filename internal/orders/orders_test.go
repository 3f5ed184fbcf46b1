package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/config"
	"github.com/permaweb/ao-ucm/internal/correlation"
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/ledger/ledgertest"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/progress"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Progress(e progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last() progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return progress.Event{}
	}
	return l.events[len(l.events)-1]
}

func (l *eventLog) count(phase progress.Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Phase == phase {
			n++
		}
	}
	return n
}

func testPolicies() Policies {
	fast := correlation.Policy{MaxAttempts: 5, Delay: time.Second}
	return Policies{
		Order:             fast,
		Step:              fast,
		Deposit:           correlation.Policy{MaxAttempts: 10, Delay: time.Second},
		DepositResponse:   fast,
		Compensation:      fast,
		CompensationSends: 1,
	}
}

func newEngine(t *testing.T, l *ledgertest.Ledger, mutate func(*Options)) (*Engine, *eventLog) {
	t.Helper()
	events := &eventLog{}
	opts := Options{
		Client: l,
		Signer: wallet.Generate(),
		Processes: config.Processes{
			Marketplace:     "marketplace",
			Creator:         "profile",
			OrderbookModule: "ob-module",
			ActivityModule:  "act-module",
			OrderbookSource: "ob-source",
		},
		Policies: testPolicies(),
		Observer: events,
		Log:      zerolog.Nop(),
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return e, events
}

// corr returns the correlation id the submitter attached.
func corr(s ledgertest.Submission) string {
	if v := s.Tag(message.TagGroupID); v != "" {
		return v
	}
	return s.Tag(message.TagForwardedGroupID)
}

func testOrder() Order {
	return Order{
		OrderbookID:   "orderbook",
		CreatorID:     "profile",
		DominantToken: "token-a",
		SwapToken:     "token-b",
		Quantity:      "100",
		UnitPrice:     "2.5",
		Denomination:  "12",
	}
}

func TestCreateOrderPendingThenSuccess(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(s ledgertest.Submission) error {
		if s.Action() == message.ActionTransfer {
			l.Append("profile", ledgertest.Effect(message.ActionTransfer, corr(s)))
			l.AppendAt("orderbook", 3, ledgertest.Effect(message.ActionOrderSuccess, corr(s),
				message.Tag{Name: message.TagOrderID, Value: "order-42"},
				message.Tag{Name: message.TagMessage, Value: "Order created!"}))
		}
		return nil
	}
	e, events := newEngine(t, l, nil)

	id, err := e.CreateOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if id != "order-42" {
		t.Fatalf("expected order-42, got %s", id)
	}
	if l.Reads("orderbook") != 3 {
		t.Fatalf("expected success on the third poll, got %d reads", l.Reads("orderbook"))
	}

	sub := l.SubmissionsFor(message.ActionTransfer)[0]
	if sub.Outbound.Target != "profile" || sub.Tag("Recipient") != "orderbook" || sub.Tag("X-Price") != "2.5" || sub.Tag("X-Transfer-Denomination") != "12" {
		t.Fatalf("unexpected transfer tags: %+v", sub.Outbound.Tags)
	}
	if sub.Tag(message.TagForwardedGroupID) == "" || sub.Tag(message.TagGroupID) != "" {
		t.Fatalf("expected correlation in X-Group-ID only: %+v", sub.Outbound.Tags)
	}
	if last := events.last(); last.Phase != progress.PhaseSuccess || last.Message != "Order created!" {
		t.Fatalf("unexpected final event %+v", last)
	}
	if events.count(progress.PhasePoll) != 3 {
		t.Fatalf("expected 3 poll events, got %d", events.count(progress.PhasePoll))
	}
}

func TestCreateOrderFallsBackToTransferID(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(s ledgertest.Submission) error {
		l.Append("profile", ledgertest.Effect(message.ActionTransfer, corr(s)))
		l.Append("orderbook", ledgertest.Effect(message.ActionOrderSuccess, corr(s)))
		return nil
	}
	e, _ := newEngine(t, l, nil)

	id, err := e.CreateOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if id != l.Submissions()[0].ID {
		t.Fatalf("expected transfer id %s, got %s", l.Submissions()[0].ID, id)
	}
}

func TestCreateOrderViaRunAction(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(s ledgertest.Submission) error {
		l.Append("orderbook", ledgertest.Effect(message.ActionOrderSuccess, corr(s),
			message.Tag{Name: message.TagOrderID, Value: "order-7"}))
		return nil
	}
	e, _ := newEngine(t, l, nil)

	o := testOrder()
	o.Route = RouteRunAction
	id, err := e.CreateOrder(context.Background(), o)
	if err != nil || id != "order-7" {
		t.Fatalf("expected order-7, got %s %v", id, err)
	}
	sub := l.Submissions()[0]
	if sub.Action() != message.ActionRunAction || sub.Tag("ForwardTo") != "token-a" || sub.Tag("ForwardAction") != message.ActionTransfer {
		t.Fatalf("unexpected run-action tags: %+v", sub.Outbound.Tags)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(sub.Outbound.Data), &data); err != nil {
		t.Fatalf("data is not json: %v", err)
	}
	if data["Target"] != "token-a" || data["Action"] != message.ActionTransfer {
		t.Fatalf("unexpected data %v", data)
	}
	if l.Reads("profile") != 0 {
		t.Fatalf("run-action orders poll only the orderbook")
	}
}

func TestCreateOrderRemoteError(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(s ledgertest.Submission) error {
		l.Append("profile", ledgertest.Effect(message.ActionTransfer, corr(s)))
		l.Append("orderbook", ledgertest.Effect(message.ActionOrderError, corr(s),
			message.Tag{Name: message.TagMessage, Value: "Pair not found"}))
		return nil
	}
	e, events := newEngine(t, l, nil)

	_, err := e.CreateOrder(context.Background(), testOrder())
	if !apperrors.IsCode(err, apperrors.CodeRemote) || err.Error() != "Pair not found" {
		t.Fatalf("expected remote error with text, got %v", err)
	}
	if last := events.last(); last.Phase != progress.PhaseError || last.Success() {
		t.Fatalf("unexpected final event %+v", last)
	}
}

func TestCreateOrderTimeout(t *testing.T) {
	l := ledgertest.New()
	e, events := newEngine(t, l, nil)

	_, err := e.CreateOrder(context.Background(), testOrder())
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if apperrors.GetMetadata(err)[apperrors.MetaAttempts] != "5" {
		t.Fatalf("expected 5 attempts, got %v", apperrors.GetMetadata(err))
	}
	if events.last().Phase != progress.PhaseTimeout {
		t.Fatalf("expected timeout event, got %+v", events.last())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	l := ledgertest.New()
	e, _ := newEngine(t, l, nil)

	cases := map[string]func(*Order){
		"quantity":       func(o *Order) { o.Quantity = "" },
		"zero quantity":  func(o *Order) { o.Quantity = "0" },
		"price":          func(o *Order) { o.UnitPrice = "abc" },
		"denomination":   func(o *Order) { o.Denomination = "1.5" },
		"swap token":     func(o *Order) { o.SwapToken = " " },
		"unknown route":  func(o *Order) { o.Route = "Bridge" },
		"orderbook":      func(o *Order) { o.OrderbookID = "" },
		"negative price": func(o *Order) { o.UnitPrice = "-1" },
	}
	for name, mutate := range cases {
		o := testOrder()
		mutate(&o)
		if _, err := e.CreateOrder(context.Background(), o); !apperrors.IsCode(err, apperrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(l.Submissions()) != 0 {
		t.Fatalf("invalid orders must not be dispatched")
	}
}

func TestCreateOrderTransmissionFailure(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(ledgertest.Submission) error { return errors.New("mu down") }
	e, _ := newEngine(t, l, nil)

	if _, err := e.CreateOrder(context.Background(), testOrder()); !apperrors.IsCode(err, apperrors.CodeTransmission) {
		t.Fatalf("expected transmission error, got %v", err)
	}
	if l.Reads("orderbook") != 0 {
		t.Fatalf("nothing should be polled after a failed dispatch")
	}
}

func TestCancelOrderEmbedsCorrelationInInput(t *testing.T) {
	l := ledgertest.New()
	e, _ := newEngine(t, l, nil)

	d, err := e.CancelOrder(context.Background(), CancelRequest{
		OrderbookID:   "orderbook",
		OrderID:       "order-1",
		CreatorID:     "profile",
		DominantToken: "token-a",
		SwapToken:     "token-b",
	})
	if err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	sub := l.Submissions()[0]
	if sub.ID != d.MessageID || sub.Action() != message.ActionRunAction || sub.Tag("ForwardAction") != message.ActionCancelOrder {
		t.Fatalf("unexpected cancel submission %+v", sub)
	}
	echoed := message.Message{
		Tags: []message.Tag{{Name: message.TagAction, Value: message.ActionCancelOrder}},
		Data: sub.Outbound.Data,
	}
	if echoed.CorrelationID() != d.CorrelationID {
		t.Fatalf("expected nested X-Group-ID %s in %s", d.CorrelationID, sub.Outbound.Data)
	}
	if !strings.Contains(sub.Outbound.Data, `"OrderTxId":"order-1"`) {
		t.Fatalf("missing order id in %s", sub.Outbound.Data)
	}

	if _, err := e.CancelOrder(context.Background(), CancelRequest{OrderbookID: "orderbook"}); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// claimScript answers each claim-sequence step with the configured action.
type claimScript struct {
	l           *ledgertest.Ledger
	allow       string
	claim       string
	create      string
	cancelAllow string
	cancelFails int
	cancelSends int
}

func (c *claimScript) onSubmit(s ledgertest.Submission) error {
	reply := func(process, action string, tags ...message.Tag) {
		if action != "" {
			c.l.Append(process, ledgertest.Effect(action, corr(s), tags...))
		}
	}
	switch s.Action() {
	case message.ActionAllow:
		reply("token-a", c.allow, message.Tag{Name: message.TagMessage, Value: "Allowance rejected"})
	case message.ActionClaim:
		reply("marketplace", c.claim, message.Tag{Name: message.TagMessage, Value: "Claim rejected"})
	case message.ActionCreateOrder:
		reply("marketplace", c.create, message.Tag{Name: message.TagOrderID, Value: "order-claimed"})
	case message.ActionCancelAllow:
		c.cancelSends++
		if c.cancelSends <= c.cancelFails {
			return errors.New("mu unavailable")
		}
		reply("token-a", c.cancelAllow, message.Tag{Name: message.TagMessage, Value: "Cancel rejected"})
	}
	return nil
}

func claimOrder() ClaimOrder {
	o := testOrder()
	o.OrderbookID = ""
	o.CreatorID = ""
	return ClaimOrder{Order: o}
}

func TestPlaceClaimedOrderSuccess(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowSuccess, claim: message.ActionClaimSuccess, create: message.ActionOrderSuccess}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	id, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if err != nil || id != "order-claimed" {
		t.Fatalf("expected order-claimed, got %s %v", id, err)
	}
	allow := l.SubmissionsFor(message.ActionAllow)[0]
	if allow.Tag("Recipient") != "marketplace" {
		t.Fatalf("allow must name the marketplace: %+v", allow.Outbound.Tags)
	}
	create := l.SubmissionsFor(message.ActionCreateOrder)[0]
	if create.Tag("AllowTxId") != allow.ID || !strings.Contains(create.Outbound.Data, `"Price":"2.5"`) {
		t.Fatalf("create must reference the allowance: %+v", create)
	}
	if len(l.SubmissionsFor(message.ActionCancelAllow)) != 0 {
		t.Fatalf("no compensation expected on success")
	}
}

func TestPlaceClaimedOrderAllowErrorCompensates(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowError, cancelAllow: message.ActionCancelAllowSuccess}
	l.OnSubmit = script.onSubmit
	e, events := newEngine(t, l, nil)

	_, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if !apperrors.IsCode(err, apperrors.CodeRemote) || err.Error() != "Allowance rejected" {
		t.Fatalf("expected the original remote error, got %v", err)
	}
	allow := l.SubmissionsFor(message.ActionAllow)[0]
	cancels := l.SubmissionsFor(message.ActionCancelAllow)
	if len(cancels) != 1 || cancels[0].Tag("AllowTxId") != allow.ID || cancels[0].Outbound.Target != "token-a" {
		t.Fatalf("expected Cancel-Allow for %s, got %+v", allow.ID, cancels)
	}
	if len(l.SubmissionsFor(message.ActionClaim)) != 0 {
		t.Fatalf("claim must not run after a failed allow")
	}
	if events.count(progress.PhaseCompensate) != 1 || events.last().Phase != progress.PhaseError {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestPlaceClaimedOrderClaimErrorCompensates(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowSuccess, claim: message.ActionClaimError, cancelAllow: message.ActionCancelAllowSuccess}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if !apperrors.IsCode(err, apperrors.CodeRemote) || err.Error() != "Claim rejected" {
		t.Fatalf("expected the original claim error, got %v", err)
	}
	allow := l.SubmissionsFor(message.ActionAllow)[0]
	cancels := l.SubmissionsFor(message.ActionCancelAllow)
	if len(cancels) != 1 || cancels[0].Tag("AllowTxId") != allow.ID {
		t.Fatalf("expected one Cancel-Allow for %s, got %+v", allow.ID, cancels)
	}
	if len(l.SubmissionsFor(message.ActionCreateOrder)) != 0 {
		t.Fatalf("create must not run after a failed claim")
	}
}

func TestPlaceClaimedOrderCreateErrorKeepsClaim(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowSuccess, claim: message.ActionClaimSuccess, create: message.ActionOrderError}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if !apperrors.IsCode(err, apperrors.CodeRemote) {
		t.Fatalf("expected remote error from Create-Order, got %v", err)
	}
	if len(l.SubmissionsFor(message.ActionCancelAllow)) != 0 {
		t.Fatalf("a claimed allowance must not be cancelled")
	}
}

func TestPlaceClaimedOrderCompensationRejected(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowSuccess, claim: message.ActionClaimError, cancelAllow: message.ActionCancelAllowError}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if !apperrors.IsCode(err, apperrors.CodeCompensationFailure) {
		t.Fatalf("expected compensation failure, got %v", err)
	}
	allow := l.SubmissionsFor(message.ActionAllow)[0]
	if apperrors.GetMetadata(err)[apperrors.MetaAllowTxID] != allow.ID {
		t.Fatalf("expected allow tx id metadata, got %v", apperrors.GetMetadata(err))
	}
	if !strings.Contains(err.Error(), "Claim rejected") || !strings.Contains(err.Error(), "Cancel rejected") {
		t.Fatalf("expected both failures in %q", err.Error())
	}
}

func TestPlaceClaimedOrderCompensationResend(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, allow: message.ActionAllowError, cancelAllow: message.ActionCancelAllowSuccess, cancelFails: 2}
	l.OnSubmit = script.onSubmit

	e, _ := newEngine(t, l, func(o *Options) { o.Policies.CompensationSends = 3 })
	if _, err := e.PlaceClaimedOrder(context.Background(), claimOrder()); !apperrors.IsCode(err, apperrors.CodeRemote) {
		t.Fatalf("expected remote error after resent compensation, got %v", err)
	}
	if script.cancelSends != 3 {
		t.Fatalf("expected 3 sends, got %d", script.cancelSends)
	}

	l2 := ledgertest.New()
	script2 := &claimScript{l: l2, allow: message.ActionAllowError, cancelFails: 1}
	l2.OnSubmit = script2.onSubmit
	e2, _ := newEngine(t, l2, nil)
	if _, err := e2.PlaceClaimedOrder(context.Background(), claimOrder()); !apperrors.IsCode(err, apperrors.CodeCompensationFailure) {
		t.Fatalf("expected compensation failure without resend, got %v", err)
	}
	if script2.cancelSends != 1 {
		t.Fatalf("compensation must not be resent by default, got %d sends", script2.cancelSends)
	}
}

func TestPlaceClaimedOrderAllowTimeoutCompensates(t *testing.T) {
	l := ledgertest.New()
	script := &claimScript{l: l, cancelAllow: message.ActionCancelAllowSuccess}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceClaimedOrder(context.Background(), claimOrder())
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Fatalf("expected the original timeout, got %v", err)
	}
	if len(l.SubmissionsFor(message.ActionCancelAllow)) != 1 {
		t.Fatalf("expected compensation after allow timeout")
	}
}

// depositScript answers deposit checks with Error until the nth check.
type depositScript struct {
	l         *ledgertest.Ledger
	successAt int
	reply     string
	checks    int
}

func (d *depositScript) onSubmit(s ledgertest.Submission) error {
	switch s.Action() {
	case message.ActionCheckDepositStatus:
		d.checks++
		if d.reply != "" {
			d.l.Append("orderbook", ledgertest.Effect(d.reply, corr(s),
				message.Tag{Name: message.TagMessage, Value: "DepositTxId must be a valid address"}))
			return nil
		}
		status := message.StatusError
		if d.successAt > 0 && d.checks >= d.successAt {
			status = message.StatusSuccess
		}
		d.l.Append("orderbook", ledgertest.Effect(message.ActionDepositStatusEvaluated, corr(s),
			message.Tag{Name: message.TagStatus, Value: status},
			message.Tag{Name: message.TagMessage, Value: "Deposit " + status}))
	case message.ActionCreateOrder:
		d.l.Append("orderbook", ledgertest.Effect(message.ActionOrderSuccess, corr(s),
			message.Tag{Name: message.TagOrderID, Value: "order-deposit"}))
	}
	return nil
}

func depositOrder() DepositOrder {
	return DepositOrder{Order: testOrder(), DepositTxID: "deposit-1"}
}

func TestPlaceDepositedOrderSucceedsOnLastCheck(t *testing.T) {
	l := ledgertest.New()
	script := &depositScript{l: l, successAt: 10}
	l.OnSubmit = script.onSubmit
	var waits []time.Duration
	e, _ := newEngine(t, l, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			if d > 0 {
				waits = append(waits, d)
			}
			return nil
		}
	})

	id, err := e.PlaceDepositedOrder(context.Background(), depositOrder())
	if err != nil || id != "order-deposit" {
		t.Fatalf("expected order-deposit, got %s %v", id, err)
	}
	if script.checks != 10 {
		t.Fatalf("expected 10 checks, got %d", script.checks)
	}
	check := l.SubmissionsFor(message.ActionCheckDepositStatus)[0]
	if !strings.Contains(check.Outbound.Data, `"DepositTxId":"deposit-1"`) {
		t.Fatalf("unexpected check data %s", check.Outbound.Data)
	}
	create := l.SubmissionsFor(message.ActionCreateOrder)[0]
	if create.Tag("DepositTxId") != "deposit-1" {
		t.Fatalf("create must reference the deposit: %+v", create.Outbound.Tags)
	}
	if len(waits) != 9 {
		t.Fatalf("expected 9 waits between checks, got %d", len(waits))
	}
}

func TestPlaceDepositedOrderUnresolved(t *testing.T) {
	l := ledgertest.New()
	script := &depositScript{l: l}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceDepositedOrder(context.Background(), depositOrder())
	if !apperrors.IsCode(err, apperrors.CodeDepositUnresolved) {
		t.Fatalf("expected deposit unresolved, got %v", err)
	}
	if apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Fatalf("deposit exhaustion is not a timeout")
	}
	if script.checks != 10 || len(l.SubmissionsFor(message.ActionCreateOrder)) != 0 {
		t.Fatalf("expected 10 checks and no order, got %d checks", script.checks)
	}
}

func TestPlaceDepositedOrderValidationReply(t *testing.T) {
	l := ledgertest.New()
	script := &depositScript{l: l, reply: message.ActionValidationError}
	l.OnSubmit = script.onSubmit
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceDepositedOrder(context.Background(), depositOrder())
	if !apperrors.IsCode(err, apperrors.CodeRemote) || err.Error() != "DepositTxId must be a valid address" {
		t.Fatalf("expected verbatim remote error, got %v", err)
	}
	if script.checks != 1 {
		t.Fatalf("rejections must not be rechecked, got %d checks", script.checks)
	}
}

func TestPlaceDepositedOrderNoReply(t *testing.T) {
	l := ledgertest.New()
	e, _ := newEngine(t, l, nil)

	_, err := e.PlaceDepositedOrder(context.Background(), depositOrder())
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Fatalf("expected timeout when nothing answers, got %v", err)
	}
	if len(l.SubmissionsFor(message.ActionCheckDepositStatus)) != 1 {
		t.Fatalf("expected a single unanswered check")
	}
}

func TestCreateOrderbookSequence(t *testing.T) {
	l := ledgertest.New()
	e, events := newEngine(t, l, nil)

	ob, err := e.CreateOrderbook(context.Background(), OrderbookSpec{AssetID: "asset-1", CollectionID: "collection-1", WriteToAsset: true})
	if err != nil {
		t.Fatalf("CreateOrderbook returned error: %v", err)
	}
	subs := l.Submissions()
	if len(subs) != 7 {
		t.Fatalf("expected 2 spawns and 5 messages, got %d", len(subs))
	}
	if subs[0].Spawn == nil || subs[0].ID != ob.OrderbookID || subs[0].Spawn.Module != "ob-module" {
		t.Fatalf("unexpected orderbook spawn %+v", subs[0])
	}
	if subs[0].Tag("UCM-Process") != "Orderbook" || subs[0].Tag("Asset-ID") != "asset-1" || subs[0].Tag("On-Boot") != "ob-source" {
		t.Fatalf("unexpected orderbook tags %+v", subs[0].Outbound.Tags)
	}
	if subs[1].Spawn == nil || subs[1].ID != ob.ActivityID || subs[1].Tag("UCM-Process") != "Asset-Activity" {
		t.Fatalf("unexpected activity spawn %+v", subs[1])
	}
	if subs[2].Outbound.Target != ob.ActivityID || subs[2].Outbound.Data != "UCM = '"+ob.OrderbookID+"'" {
		t.Fatalf("unexpected activity eval %+v", subs[2])
	}
	if subs[3].Outbound.Target != ob.OrderbookID || subs[3].Outbound.Data != "ACTIVITY_PROCESS = '"+ob.ActivityID+"'" {
		t.Fatalf("unexpected orderbook eval %+v", subs[3])
	}
	if subs[5].Action() != message.ActionUpdateCollection || subs[5].Tag("ActivityId") != ob.ActivityID {
		t.Fatalf("unexpected collection update %+v", subs[5])
	}
	if subs[6].Outbound.Target != "asset-1" || !strings.Contains(subs[6].Outbound.Data, ob.OrderbookID) {
		t.Fatalf("unexpected asset eval %+v", subs[6])
	}
	if events.count(progress.PhaseSpawn) != 2 || !events.last().Success() {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestCreateOrderbookSpawnFailure(t *testing.T) {
	l := ledgertest.New()
	l.OnSubmit = func(s ledgertest.Submission) error {
		if s.Spawn != nil && s.Tag("UCM-Process") == "Asset-Activity" {
			return errors.New("module not found")
		}
		return nil
	}
	e, events := newEngine(t, l, nil)

	_, err := e.CreateOrderbook(context.Background(), OrderbookSpec{AssetID: "asset-1"})
	if !apperrors.IsCode(err, apperrors.CodeTransmission) {
		t.Fatalf("expected transmission error, got %v", err)
	}
	if last := events.last(); last.Phase != progress.PhaseError || !strings.Contains(last.Message, "module not found") {
		t.Fatalf("unexpected final event %+v", last)
	}
	if _, err := e.CreateOrderbook(context.Background(), OrderbookSpec{}); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewRejectsBadPolicy(t *testing.T) {
	_, err := New(Options{Client: ledgertest.New(), Signer: wallet.Generate(), Policies: Policies{}})
	if !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	p := PoliciesFromConfig(config.Default().Retry)
	if p.Order.MaxAttempts != 1000 || p.Order.Delay != time.Second {
		t.Fatalf("unexpected order policy %+v", p.Order)
	}
	if p.Deposit.MaxAttempts != 10 || p.CompensationSends != 1 {
		t.Fatalf("unexpected deposit/compensation %+v", p)
	}
}
