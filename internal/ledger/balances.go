package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/models"
)

// Expense is a payment to be shared.
type Expense struct {
	PaidBy       string
	Amount       decimal.Decimal
	Participants []string
}

// MemberBalance is one user's position across an event's expenses.
type MemberBalance struct {
	User string          `json:"user"`
	Paid decimal.Decimal `json:"paid"`
	Owed decimal.Decimal `json:"owed"`
	// Net is positive when the user is owed money.
	Net decimal.Decimal `json:"net"`
}

// Debt is a payment that settles part of the balances.
type Debt struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// Report is the settlement state of one event.
type Report struct {
	EventID  string          `json:"event_id"`
	Balances []MemberBalance `json:"balances"`
	Debts    []Debt          `json:"debts"`
}

var cent = decimal.New(1, -2)

// EventExpenses lists the active, paid transactions of ev, each shared among
// the accepted, active participants. A transaction with nobody to share it
// with is owed by its payer alone.
func EventExpenses(ev *models.Event) []Expense {
	var members []string
	for _, p := range ev.Participants {
		if p.Active && p.Status == models.StatusAccepted {
			members = append(members, p.UserID)
		}
	}

	var expenses []Expense
	for _, tx := range ev.Transactions {
		if !tx.Active || tx.PaidBy == "" || tx.Action == models.ActionDelete {
			continue
		}
		participants := members
		if len(participants) == 0 {
			participants = []string{tx.PaidBy}
		}
		expenses = append(expenses, Expense{PaidBy: tx.PaidBy, Amount: tx.Amount, Participants: participants})
	}
	return expenses
}

// EventReport computes the balances and debts of ev.
func EventReport(ev *models.Event) (*Report, error) {
	balances, debts, err := Balances(EventExpenses(ev))
	if err != nil {
		return nil, err
	}
	return &Report{EventID: ev.ServerID, Balances: balances, Debts: debts}, nil
}

// Balances aggregates who paid and who owes across expenses, and simplifies
// the result into as few debts as a greedy match allows. Output is ordered
// by user.
func Balances(expenses []Expense) ([]MemberBalance, []Debt, error) {
	balances := make(map[string]*MemberBalance)
	get := func(user string) *MemberBalance {
		b, ok := balances[user]
		if !ok {
			b = &MemberBalance{User: user}
			balances[user] = b
		}
		return b
	}

	for _, exp := range expenses {
		if exp.PaidBy == "" {
			continue
		}
		shares, err := Split(nil, exp.Amount, exp.Amount, exp.Participants)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to split expense paid by %s: %w", exp.PaidBy, err)
		}
		payer := get(exp.PaidBy)
		payer.Paid = payer.Paid.Add(exp.Amount)
		for user, share := range shares {
			b := get(user)
			b.Owed = b.Owed.Add(share.Total)
		}
	}

	out := make([]MemberBalance, 0, len(balances))
	for _, b := range balances {
		b.Net = b.Paid.Sub(b.Owed)
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b MemberBalance) int { return cmp.Compare(a.User, b.User) })
	return out, simplify(out), nil
}

type position struct {
	user   string
	amount decimal.Decimal
}

// simplify matches the largest debtor with the largest creditor until
// everything below a cent is settled.
func simplify(balances []MemberBalance) []Debt {
	var debtors, creditors []position
	for _, b := range balances {
		switch {
		case b.Net.GreaterThanOrEqual(cent):
			creditors = append(creditors, position{b.User, b.Net})
		case b.Net.LessThanOrEqual(cent.Neg()):
			debtors = append(debtors, position{b.User, b.Net.Neg()})
		}
	}
	byAmount := func(a, b position) int {
		if c := b.amount.Cmp(a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.user, b.user)
	}
	slices.SortFunc(debtors, byAmount)
	slices.SortFunc(creditors, byAmount)

	var debts []Debt
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amount := decimal.Min(d.amount, c.amount)
		if amount.GreaterThanOrEqual(cent) {
			debts = append(debts, Debt{From: d.user, To: c.user, Amount: amount.Round(2)})
		}
		d.amount = d.amount.Sub(amount)
		c.amount = c.amount.Sub(amount)
		if d.amount.LessThan(cent) {
			i++
		}
		if c.amount.LessThan(cent) {
			j++
		}
	}
	return debts
}
