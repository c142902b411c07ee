package currency

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFormatTwoDecimalCurrencies(t *testing.T) {
	cases := []struct {
		amount string
		code   string
		want   string
	}{
		{"1234.5", "KES", "1,234.50"},
		{"1000", "USD", "1,000.00"},
		{"0.125", "EUR", "0.13"},
		{"999999.999", "GBP", "1,000,000.00"},
		{"7", "NGN", "7.00"},
	}
	for _, tc := range cases {
		got := Format(dec(tc.amount), tc.code)
		if got != tc.want {
			t.Fatalf("Format(%s, %s) = %q, want %q", tc.amount, tc.code, got, tc.want)
		}
	}
}

func TestFormatZeroDecimalCurrencies(t *testing.T) {
	cases := []struct {
		amount string
		code   string
		want   string
	}{
		{"1234.5", "UGX", "1,235"},
		{"1234.4", "TZS", "1,234"},
		{"28500", "UGX", "28,500"},
		{"99.99", "JPY", "100"},
	}
	for _, tc := range cases {
		got := Format(dec(tc.amount), tc.code)
		if got != tc.want {
			t.Fatalf("Format(%s, %s) = %q, want %q", tc.amount, tc.code, got, tc.want)
		}
	}
}

func TestConvert(t *testing.T) {
	got := Convert(dec("1000"), dec("28.5"))
	if !got.Equal(dec("28500")) {
		t.Fatalf("Convert(1000, 28.5) = %s, want 28500", got)
	}
}

func TestIsSupportedBy(t *testing.T) {
	if !IsSupportedBy(entity.MethodPushPayment, "KES") {
		t.Fatal("expected KES supported for push payment")
	}
	if IsSupportedBy(entity.MethodRedirectCapture, "KES") {
		t.Fatal("expected KES unsupported for redirect capture")
	}
	if !IsSupportedBy(entity.MethodRedirectCapture, "USD") {
		t.Fatal("expected USD supported for redirect capture")
	}
	if !IsSupportedBy(entity.MethodHostedRedirect, "NGN") {
		t.Fatal("expected NGN supported for hosted redirect")
	}
}

func TestChargeAmountSupportedCurrencyUsesOwnRate(t *testing.T) {
	ctx := entity.CurrencyContext{Code: "KES", Rate: dec("1"), BaseAmount: dec("1000")}
	amount, code, err := ChargeAmount(entity.MethodPushPayment, ctx, RateTable{})
	if err != nil {
		t.Fatalf("charge amount failed: %v", err)
	}
	if code != "KES" || !amount.Equal(dec("1000")) {
		t.Fatalf("got %s %s, want 1000 KES", amount, code)
	}
}

func TestChargeAmountFallbackRecomputesFromBase(t *testing.T) {
	// KES is unsupported for redirect capture: the charge must come from the
	// base amount and the fallback currency's rate, not from the KES rate.
	ctx := entity.CurrencyContext{Code: "KES", Rate: dec("1"), BaseAmount: dec("1000")}
	rates := RateTable{"USD": dec("0.0078")}

	amount, code, err := ChargeAmount(entity.MethodRedirectCapture, ctx, rates)
	if err != nil {
		t.Fatalf("charge amount failed: %v", err)
	}
	if code != "USD" {
		t.Fatalf("expected fallback USD, got %s", code)
	}
	if !amount.Equal(dec("7.8")) {
		t.Fatalf("expected 7.8, got %s", amount)
	}
}

func TestChargeAmountNoFallbackIsUnsupported(t *testing.T) {
	ctx := entity.CurrencyContext{Code: "USD", Rate: dec("0.0078"), BaseAmount: dec("1000")}
	_, _, err := ChargeAmount(entity.MethodPushPayment, ctx, RateTable{})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestChargeAmountFallbackMissingRate(t *testing.T) {
	ctx := entity.CurrencyContext{Code: "KES", Rate: dec("1"), BaseAmount: dec("1000")}
	_, _, err := ChargeAmount(entity.MethodRedirectCapture, ctx, RateTable{})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}
