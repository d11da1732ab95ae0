// Package ledger computes who owes what within an event.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Share is one person's part of an expense.
type Share struct {
	Subtotal decimal.Decimal
	// Extra is the person's proportional part of tax, tips and fees.
	Extra decimal.Decimal
	Total decimal.Decimal
}

// Line is one itemized part of an expense.
type Line struct {
	Description string
	Amount      decimal.Decimal
	AssignedTo  []string
}

// Split computes how much each person owes including the proportional
// surcharge: person_total = person_subtotal × (1 + (total - subtotal) / subtotal).
// Without lines the total is split equally.
func Split(lines []Line, total, subtotal decimal.Decimal, participants []string) (map[string]*Share, error) {
	if subtotal.IsZero() {
		return nil, fmt.Errorf("subtotal cannot be zero")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("must have at least one participant")
	}

	extra := total.Sub(subtotal)
	shares := make(map[string]*Share, len(participants))
	for _, p := range participants {
		shares[p] = &Share{}
	}

	if len(lines) == 0 {
		n := decimal.NewFromInt(int64(len(participants)))
		for _, share := range shares {
			share.Subtotal = subtotal.Div(n)
			share.Extra = extra.Div(n)
			share.Total = total.Div(n)
		}
		return shares, nil
	}

	for _, line := range lines {
		if len(line.AssignedTo) == 0 {
			continue
		}
		per := line.Amount.Div(decimal.NewFromInt(int64(len(line.AssignedTo))))
		for _, person := range line.AssignedTo {
			if share, ok := shares[person]; ok {
				share.Subtotal = share.Subtotal.Add(per)
			}
		}
	}

	ratio := extra.Div(subtotal)
	for _, share := range shares {
		share.Extra = share.Subtotal.Mul(ratio)
		share.Total = share.Subtotal.Add(share.Extra)
	}
	return shares, nil
}
