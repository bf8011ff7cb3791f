package money

import "testing"

func TestParse_EmptyStringIsZero(t *testing.T) {
	got, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") error = %v", err)
	}
	if !got.Equal(Zero) {
		t.Fatalf("Parse(\"\") = %s, want 0", got)
	}
}

func TestParse_InvalidStringErrors(t *testing.T) {
	if _, err := Parse("not-a-number"); err == nil {
		t.Fatalf("expected an error parsing a non-numeric string")
	}
}

func TestRoundCurrency(t *testing.T) {
	got := RoundCurrency(MustParse("12.3456"))
	if !got.Equal(MustParse("12.35")) {
		t.Fatalf("RoundCurrency = %s, want 12.35", got)
	}
}

func TestRoundPrice_JPYPairUsesThreeDecimals(t *testing.T) {
	got := RoundPrice(MustParse("154.123456"), "USDJPY")
	if !got.Equal(MustParse("154.123")) {
		t.Fatalf("RoundPrice(USDJPY) = %s, want 154.123", got)
	}
}

func TestRoundPrice_NonJPYPairUsesFiveDecimals(t *testing.T) {
	got := RoundPrice(MustParse("1.2345678"), "EURUSD")
	if !got.Equal(MustParse("1.23457")) {
		t.Fatalf("RoundPrice(EURUSD) = %s, want 1.23457", got)
	}
}

func TestMaxMin(t *testing.T) {
	a, b := MustParse("5"), MustParse("9")
	if !Max(a, b).Equal(b) {
		t.Fatalf("Max(5,9) = %s, want 9", Max(a, b))
	}
	if !Min(a, b).Equal(a) {
		t.Fatalf("Min(5,9) = %s, want 5", Min(a, b))
	}
}
