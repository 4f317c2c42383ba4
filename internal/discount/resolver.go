// Package discount turns a cart snapshot, an optional code and an optional
// loyalty redemption into an ordered, attributed discount plan. Precedence
// is fixed: item-level offers, then one order-level code, then loyalty
// redemption. The plan carries every applied discount with its source so
// downstream consumers and tests can verify provenance.
package discount

import (
	"context"
	"time"

	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

const (
	// MinRedeemPoints is the smallest redemption the ledger accepts.
	MinRedeemPoints = 500
	// RedeemCapPercent caps redemption at this share of the post-discount total.
	RedeemCapPercent = 50
	// PointsPerPound: 100 points convert to one currency unit.
	PointsPerPound = 100
)

type Source string

const (
	SourceOffer   Source = "offer"
	SourceCode    Source = "code"
	SourceLoyalty Source = "loyalty"
)

// Applied is one discount with its provenance. Ref identifies the offer,
// code or customer it came from.
type Applied struct {
	Source Source      `json:"source"`
	Ref    string      `json:"ref"`
	Label  string      `json:"label"`
	Amount money.Cents `json:"amount_cents"`
}

type Plan struct {
	Applied      []Applied `json:"applied"`
	FreeDelivery bool      `json:"free_delivery"`
	RedeemPoints int       `json:"redeem_points"`
	CodeUsed     string    `json:"code_used,omitempty"`
}

func (p Plan) Total() money.Cents {
	var sum money.Cents
	for _, a := range p.Applied {
		sum += a.Amount
	}
	return sum
}

// BalanceSource yields a customer's current point balance; implemented by
// the loyalty ledger.
type BalanceSource interface {
	Balance(ctx context.Context, customerID string) (int, error)
}

type Resolver struct {
	Catalog catalog.Catalog
	Codes   CodeStore
	Points  BalanceSource
}

type Request struct {
	Cart         cart.Cart
	CustomerID   string
	Code         string
	RedeemPoints int
	FirstOrder   bool
	Now          time.Time
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (Plan, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	var plan Plan
	subtotal := req.Cart.Subtotal()

	// 1) Item-level offers: best active offer per line, capped at the line total.
	for _, l := range req.Cart.Lines {
		it, err := r.Catalog.Item(ctx, l.ItemID)
		if err != nil {
			return Plan{}, err
		}
		if best, ok := bestOffer(it, l, now); ok {
			plan.Applied = append(plan.Applied, best)
		}
	}
	postOffer := subtotal - plan.Total()

	// 2) One order-level code against the post-offer subtotal.
	if req.Code != "" {
		applied, free, err := r.applyCode(ctx, req, postOffer, len(plan.Applied) > 0, now)
		if err != nil {
			return Plan{}, err
		}
		plan.CodeUsed = Normalize(req.Code)
		plan.FreeDelivery = free
		if applied.Amount > 0 {
			plan.Applied = append(plan.Applied, applied)
		}
	}

	// 3) Loyalty redemption against the post-discount total.
	if req.RedeemPoints > 0 {
		applied, err := r.applyRedemption(ctx, req, subtotal-plan.Total())
		if err != nil {
			return Plan{}, err
		}
		plan.RedeemPoints = req.RedeemPoints
		plan.Applied = append(plan.Applied, applied)
	}

	return plan, nil
}

// bestOffer evaluates every offer on the item against the line and keeps
// the highest-value one. The discount never exceeds the line's price.
func bestOffer(it catalog.Item, l cart.Line, now time.Time) (Applied, bool) {
	lineTotal := l.Total()
	var best Applied
	for _, o := range it.Offers {
		if !o.ActiveAt(now) || l.Qty < max(o.MinQuantity, 1) {
			continue
		}
		var amount money.Cents
		switch o.Type {
		case catalog.OfferPercentage:
			amount = money.RoundHalfUp(money.Percent(lineTotal, o.Value))
		case catalog.OfferFixed:
			amount = money.Cents(o.Value).Mul(l.Qty / max(o.MinQuantity, 1))
		case catalog.OfferBOGO:
			amount = l.UnitPrice.Mul(l.Qty / o.MinQuantity)
		}
		amount = money.Min(amount, lineTotal)
		if amount > best.Amount {
			best = Applied{Source: SourceOffer, Ref: o.ID, Label: o.Name, Amount: amount}
		}
	}
	return best, best.Amount > 0
}

func (r *Resolver) applyCode(ctx context.Context, req Request, postOffer money.Cents, offersApplied bool, now time.Time) (Applied, bool, error) {
	c, err := r.Codes.Lookup(ctx, req.Code)
	if err != nil {
		return Applied{}, false, err
	}
	if !c.Active || now.Before(c.StartsAt) {
		return Applied{}, false, faults.Newf(faults.Validation, "discount code %s is not active", c.Code)
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return Applied{}, false, faults.Newf(faults.Validation, "discount code %s has expired", c.Code)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return Applied{}, false, faults.Newf(faults.LimitExceeded, "discount code %s has reached its usage limit", c.Code)
	}
	if c.FirstOrderOnly && !req.FirstOrder {
		return Applied{}, false, faults.Newf(faults.Validation, "discount code %s is for first orders only", c.Code)
	}
	if !c.Combinable && offersApplied {
		return Applied{}, false, faults.Newf(faults.Validation, "discount code %s cannot be combined with item offers", c.Code)
	}
	if postOffer < c.MinOrder {
		return Applied{}, false, faults.Newf(faults.Validation, "discount code %s requires a minimum order of %s", c.Code, c.MinOrder.Pounds())
	}

	var amount money.Cents
	free := false
	switch c.Type {
	case CodePercentage:
		amount = money.RoundHalfUp(money.Percent(postOffer, c.Value))
	case CodeFixed:
		amount = money.Min(money.Cents(c.Value), postOffer)
	case CodeFreeDelivery:
		free = true
	}
	if c.MaxDiscount > 0 {
		amount = money.Min(amount, c.MaxDiscount)
	}
	return Applied{Source: SourceCode, Ref: c.Code, Label: c.Code, Amount: amount}, free, nil
}

func (r *Resolver) applyRedemption(ctx context.Context, req Request, postDiscount money.Cents) (Applied, error) {
	if req.RedeemPoints < MinRedeemPoints {
		return Applied{}, faults.Newf(faults.LimitExceeded, "redemptions start at %d points", MinRedeemPoints)
	}
	balance, err := r.Points.Balance(ctx, req.CustomerID)
	if err != nil {
		return Applied{}, err
	}
	if balance < req.RedeemPoints {
		return Applied{}, faults.Newf(faults.LimitExceeded, "balance %d is below requested %d points", balance, req.RedeemPoints)
	}
	// 100 points = £1, so one point is worth one penny.
	value := money.Cents(req.RedeemPoints)
	cap := money.RoundHalfUp(money.Percent(postDiscount, RedeemCapPercent))
	if value > cap {
		return Applied{}, faults.Newf(faults.LimitExceeded, "redemption capped at %s for this order", cap.Pounds())
	}
	return Applied{Source: SourceLoyalty, Ref: req.CustomerID, Label: "loyalty points", Amount: value}, nil
}
