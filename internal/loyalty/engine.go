// Package loyalty computes the discount for a checkout. The engine is pure:
// it never touches storage and never returns an error, because a broken
// client profile must not block a sale.
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
)

type Engine struct {
	visitRule    *domain.LoyaltyRule
	birthdayRule *domain.BirthdayRule
	loc          *time.Location
}

func NewEngine(visitRule *domain.LoyaltyRule, birthdayRule *domain.BirthdayRule, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{visitRule: visitRule, birthdayRule: birthdayRule, loc: loc}
}

// ComputeDiscount returns the discount for this sale or nil when none
// applies. Rules never stack: the visit rule is checked first, the birthday
// rule only when the visit rule did not match. Malformed rule or profile
// data disables the rule instead of failing the checkout.
func (e *Engine) ComputeDiscount(client *domain.ClientProfile, subtotalCents int64, at time.Time) *domain.Discount {
	if client == nil || subtotalCents <= 0 {
		return nil
	}

	if d := e.visitDiscount(client, subtotalCents); d != nil {
		return d
	}
	return e.birthdayDiscount(client, subtotalCents, at)
}

func (e *Engine) visitDiscount(client *domain.ClientProfile, subtotalCents int64) *domain.Discount {
	rule := e.visitRule
	if rule == nil || !validPercent(rule.DiscountPercent) || rule.VisitThreshold < 1 {
		return nil
	}
	if client.Visits < 0 || client.Visits < rule.VisitThreshold {
		return nil
	}
	return buildDiscount(subtotalCents, rule.DiscountPercent, rule.Reason)
}

func (e *Engine) birthdayDiscount(client *domain.ClientProfile, subtotalCents int64, at time.Time) *domain.Discount {
	rule := e.birthdayRule
	if rule == nil || !validPercent(rule.DiscountPercent) || client.BirthDate == nil {
		return nil
	}

	today := at.In(e.loc)
	birth := *client.BirthDate
	if birth.Month() != today.Month() || birth.Day() != today.Day() {
		return nil
	}
	return buildDiscount(subtotalCents, rule.DiscountPercent, rule.Reason)
}

// buildDiscount rounds the cent amount half up. Round(0) ties away from
// zero, which is half up for the positive amounts handled here.
func buildDiscount(subtotalCents int64, percent float64, reason string) *domain.Discount {
	amount := decimal.NewFromInt(subtotalCents).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	if amount <= 0 {
		return nil
	}
	if amount > subtotalCents {
		amount = subtotalCents
	}
	return &domain.Discount{Percent: percent, AmountCents: amount, Reason: reason}
}

func validPercent(percent float64) bool {
	return percent > 0 && percent <= 100
}
