package message

import (
	"sort"
	"strings"
)

// Action vocabulary. The list is open; processes may emit anything.
const (
	ActionTransfer               = "Transfer"
	ActionCreditNotice           = "Credit-Notice"
	ActionDebitNotice            = "Debit-Notice"
	ActionRunAction              = "Run-Action"
	ActionCreateOrder            = "Create-Order"
	ActionCancelOrder            = "Cancel-Order"
	ActionOrderSuccess           = "Order-Success"
	ActionOrderError             = "Order-Error"
	ActionCheckDepositStatus     = "Check-Deposit-Status"
	ActionDepositStatusEvaluated = "Deposit-Status-Evaluated"
	ActionInputError             = "Input-Error"
	ActionValidationError        = "Validation-Error"
	ActionAllow                  = "Allow"
	ActionAllowSuccess           = "Allow-Success"
	ActionAllowError             = "Allow-Error"
	ActionClaim                  = "Claim"
	ActionClaimSuccess           = "Claim-Success"
	ActionClaimError             = "Claim-Error"
	ActionCheckClaimStatus       = "Check-Claim-Status"
	ActionCancelAllow            = "Cancel-Allow"
	ActionCancelAllowSuccess     = "Cancel-Allow-Success"
	ActionCancelAllowError       = "Cancel-Allow-Error"
	ActionEval                   = "Eval"
	ActionUpdateCollection       = "Update-Collection-Activity"
)

// Status values carried in the Status tag.
const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

// ActionSet is an unordered set of action names.
type ActionSet map[string]struct{}

// NewActionSet collects actions into a set, ignoring blanks.
func NewActionSet(actions ...string) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		if a == "" {
			continue
		}
		set[a] = struct{}{}
	}
	return set
}

// Observed returns the distinct Action values of msgs.
func Observed(msgs []Message) ActionSet {
	set := make(ActionSet, len(msgs))
	for _, msg := range msgs {
		if a := msg.Action(); a != "" {
			set[a] = struct{}{}
		}
	}
	return set
}

// Equal reports exact set equality. Subsets and supersets are not equal.
func (s ActionSet) Equal(other ActionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for a := range s {
		if _, ok := other[a]; !ok {
			return false
		}
	}
	return true
}

// Contains reports whether action is in the set.
func (s ActionSet) Contains(action string) bool {
	_, ok := s[action]
	return ok
}

// Sorted lists the members alphabetically.
func (s ActionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s ActionSet) String() string {
	return "{" + strings.Join(s.Sorted(), ", ") + "}"
}
