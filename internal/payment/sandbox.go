package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

// Sandbox stands in for the real provider in local and test deployments.
// The token steers the outcome: "tok_declined" declines, "tok_timeout"
// times out once then captures, everything else captures.
type Sandbox struct {
	timeouts map[string]bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{timeouts: map[string]bool{}}
}

func (s *Sandbox) Charge(_ context.Context, _ money.Cents, token string) (Charge, error) {
	switch token {
	case "tok_declined":
		return Charge{Status: StatusDeclined}, nil
	case "tok_timeout":
		if !s.timeouts[token] {
			s.timeouts[token] = true
			return Charge{Status: StatusTimeout}, nil
		}
		return Charge{Ref: "ch_" + uuid.NewString(), Status: StatusCaptured}, nil
	default:
		return Charge{Ref: "ch_" + uuid.NewString(), Status: StatusCaptured}, nil
	}
}

func (s *Sandbox) Refund(_ context.Context, paymentRef string, _ money.Cents) (string, error) {
	if paymentRef == "" {
		return "", faults.New(faults.Payment, "nothing was charged on this order")
	}
	return "re_" + uuid.NewString(), nil
}
