package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Round(2).Equal(d(want)) {
		t.Errorf("%s = %s, want %s", label, got.Round(2), want)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		lines        []Line
		total        string
		subtotal     string
		participants []string
		wantErr      bool
		validateFunc func(t *testing.T, shares map[string]*Share)
	}{
		{
			name: "itemized two-person split with surcharge",
			lines: []Line{
				{Description: "Pizza", Amount: d("20"), AssignedTo: []string{"alice", "bob"}},
				{Description: "Salad", Amount: d("10"), AssignedTo: []string{"alice"}},
			},
			total:        "33",
			subtotal:     "30",
			participants: []string{"alice", "bob"},
			validateFunc: func(t *testing.T, shares map[string]*Share) {
				// alice: 10 + 10 = 20, extra 20 * 3/30 = 2
				assertAmount(t, "alice subtotal", shares["alice"].Subtotal, "20")
				assertAmount(t, "alice extra", shares["alice"].Extra, "2")
				assertAmount(t, "alice total", shares["alice"].Total, "22")
				assertAmount(t, "bob subtotal", shares["bob"].Subtotal, "10")
				assertAmount(t, "bob total", shares["bob"].Total, "11")
			},
		},
		{
			name:         "zero subtotal should error",
			lines:        []Line{{Description: "Lift", Amount: d("10"), AssignedTo: []string{"alice"}}},
			total:        "10",
			subtotal:     "0",
			participants: []string{"alice"},
			wantErr:      true,
		},
		{
			name:         "no participants should error",
			total:        "10",
			subtotal:     "10",
			participants: []string{},
			wantErr:      true,
		},
		{
			name:         "no lines - split equally",
			total:        "90",
			subtotal:     "75",
			participants: []string{"alice", "bob", "carol"},
			validateFunc: func(t *testing.T, shares map[string]*Share) {
				for _, person := range []string{"alice", "bob", "carol"} {
					assertAmount(t, person+" subtotal", shares[person].Subtotal, "25")
					assertAmount(t, person+" extra", shares[person].Extra, "5")
					assertAmount(t, person+" total", shares[person].Total, "30")
				}
			},
		},
		{
			name:         "line assigned to an outsider is ignored",
			lines:        []Line{{Description: "Sauna", Amount: d("40"), AssignedTo: []string{"dave"}}},
			total:        "40",
			subtotal:     "40",
			participants: []string{"alice"},
			validateFunc: func(t *testing.T, shares map[string]*Share) {
				assertAmount(t, "alice total", shares["alice"].Total, "0")
				if _, ok := shares["dave"]; ok {
					t.Error("outsider received a share")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares, err := Split(tt.lines, d(tt.total), d(tt.subtotal), tt.participants)
			if (err != nil) != tt.wantErr {
				t.Errorf("Split() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.validateFunc != nil {
				tt.validateFunc(t, shares)
			}
		})
	}
}
