package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		out  string
		code string
	}{
		{"10.005", "10.01", "USD"},
		{"10.004", "10.00", "USD"},
		{"11.535", "11.54", "USD"},
		{"100.5", "101", "JPY"},
		{"1.2345", "1.235", "KWD"},
	}
	for _, tc := range cases {
		m := MustParse(tc.in, tc.code)
		got := m.Round().Amount().String()
		want := decimal.RequireFromString(tc.out).String()
		if got != want {
			t.Fatalf("round %s %s: got %s want %s", tc.in, tc.code, got, want)
		}
	}
}

func TestArithmeticRejectsMixedCurrencies(t *testing.T) {
	usd := MustParse("10.00", "USD")
	eur := MustParse("10.00", "EUR")
	if _, err := usd.Add(eur); err == nil {
		t.Fatal("expected currency mismatch error on Add")
	}
	if _, err := usd.Sub(eur); err == nil {
		t.Fatal("expected currency mismatch error on Sub")
	}
	if _, err := usd.Cmp(eur); err == nil {
		t.Fatal("expected currency mismatch error on Cmp")
	}
}

func TestMulBps(t *testing.T) {
	gross := MustParse("299.99", "USD")
	commission := gross.MulBps(1000).Round()
	if commission.Amount().String() != "30" {
		t.Fatalf("10%% of 299.99 rounded: got %s want 30", commission.Amount())
	}
}

func TestJSONWireShape(t *testing.T) {
	m := MustParse("15.5", "USD")
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"amount":"15.50","currency":"USD"}` {
		t.Fatalf("unexpected wire form: %s", raw)
	}
	var back Money
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(MustParse("15.50", "USD")) {
		t.Fatalf("round trip mismatch: %s", back)
	}
}

func TestSumExact(t *testing.T) {
	total, err := Sum(MustParse("299.99", "USD"), MustParse("89.99", "USD"))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total.Amount().String() != "389.98" {
		t.Fatalf("sum: got %s want 389.98", total.Amount())
	}
}

func TestUnsupportedCurrency(t *testing.T) {
	if _, err := FromString("1.00", "DOLLARS"); err == nil {
		t.Fatal("expected unsupported currency error")
	}
}
