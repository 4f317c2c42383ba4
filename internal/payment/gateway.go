// Package payment wraps the external payment gateway. The gateway wire
// protocol is out of scope; the core only needs charge semantics: issue
// once, retry exactly once on timeout, fail on anything else.
package payment

import (
	"context"
	"log/slog"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

type Status string

const (
	StatusCaptured Status = "captured"
	StatusDeclined Status = "declined"
	StatusTimeout  Status = "timeout"
)

type Charge struct {
	Ref    string
	Status Status
}

type Gateway interface {
	Charge(ctx context.Context, amount money.Cents, token string) (Charge, error)
}

// ChargeOnce issues the charge, retrying a single time on timeout. A
// decline, a second timeout, or a transport error all surface as a payment
// fault.
func ChargeOnce(ctx context.Context, g Gateway, amount money.Cents, token string, log *slog.Logger) (Charge, error) {
	ch, err := g.Charge(ctx, amount, token)
	if err != nil {
		return Charge{}, faults.Wrap(faults.Payment, "charge failed", err)
	}
	if ch.Status == StatusTimeout {
		if log != nil {
			log.Warn("charge timed out, retrying once", "amount", amount.Pounds())
		}
		ch, err = g.Charge(ctx, amount, token)
		if err != nil {
			return Charge{}, faults.Wrap(faults.Payment, "charge retry failed", err)
		}
	}
	switch ch.Status {
	case StatusCaptured:
		return ch, nil
	case StatusDeclined:
		return Charge{}, faults.New(faults.Payment, "card declined")
	default:
		return Charge{}, faults.New(faults.Payment, "gateway timed out")
	}
}
