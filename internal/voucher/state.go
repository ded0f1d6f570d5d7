package voucher

import (
	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/model"
)

// Action is a request to move a voucher between states.
type Action string

const (
	ActionValidate   Action = "validate"
	ActionInvalidate Action = "invalidate"
	ActionPost       Action = "post"
	ActionReverse    Action = "reverse"
	ActionReject     Action = "reject"
	ActionResubmit   Action = "resubmit"
)

type transitionKey struct {
	from   model.VoucherStatus
	action Action
}

// transitions is the complete state machine. Resubmit leaves the rejected
// voucher as it is; its target is the state of the new copy.
var transitions = map[transitionKey]model.VoucherStatus{
	{model.StatusDraft, ActionValidate}: model.StatusValidated,
	{model.StatusDraft, ActionPost}:     model.StatusPosted,
	{model.StatusDraft, ActionReject}:   model.StatusRejected,

	{model.StatusValidated, ActionValidate}:   model.StatusValidated,
	{model.StatusValidated, ActionInvalidate}: model.StatusDraft,
	{model.StatusValidated, ActionPost}:       model.StatusPosted,
	{model.StatusValidated, ActionReject}:     model.StatusRejected,

	{model.StatusPosted, ActionReverse}: model.StatusReversed,

	{model.StatusRejected, ActionResubmit}: model.StatusDraft,
}

// Transition returns the state reached by applying action in state from.
func Transition(from model.VoucherStatus, action Action) (model.VoucherStatus, error) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return "", apperr.New(apperr.CodeInvalidTransition, "cannot %s a %s voucher", action, from).WithField("status")
	}
	return to, nil
}

// Allowed lists the actions permitted in state s.
func Allowed(s model.VoucherStatus) []Action {
	var out []Action
	for _, a := range []Action{ActionValidate, ActionInvalidate, ActionPost, ActionReverse, ActionReject, ActionResubmit} {
		if _, ok := transitions[transitionKey{s, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}
