// Package currency holds the pure conversion and display helpers used by the
// checkout session and the payment drivers. Nothing here performs I/O.
package currency

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

var ErrUnsupportedCurrency = errors.New("currency is not supported")

// RateSource resolves a conversion rate relative to the store base currency.
type RateSource interface {
	Rate(code string) (decimal.Decimal, bool)
}

// RateTable is the in-memory RateSource loaded from configuration.
type RateTable map[string]decimal.Decimal

func (t RateTable) Rate(code string) (decimal.Decimal, bool) {
	rate, ok := t[code]
	return rate, ok
}

// Currencies conventionally quoted without subunits.
var zeroDecimalCurrencies = map[string]bool{
	"UGX": true,
	"TZS": true,
	"RWF": true,
	"BIF": true,
	"JPY": true,
	"KRW": true,
	"VND": true,
	"XAF": true,
	"XOF": true,
	"CLP": true,
}

var methodCurrencies = map[entity.Method]map[string]bool{
	entity.MethodPushPayment: {
		"KES": true,
	},
	entity.MethodHostedRedirect: {
		"NGN": true,
		"GHS": true,
		"ZAR": true,
		"KES": true,
		"USD": true,
	},
	entity.MethodRedirectCapture: {
		"USD": true,
		"EUR": true,
		"GBP": true,
		"CAD": true,
		"AUD": true,
		"JPY": true,
	},
}

var methodFallbackCurrency = map[entity.Method]string{
	entity.MethodRedirectCapture: "USD",
}

var printer = message.NewPrinter(language.English)

func Convert(baseAmount, rate decimal.Decimal) decimal.Decimal {
	return baseAmount.Mul(rate)
}

// Format renders an amount for display: grouped thousands, no currency
// symbol, zero decimals for subunit-less currencies and exactly two
// otherwise.
func Format(amount decimal.Decimal, code string) string {
	if ZeroDecimal(code) {
		return printer.Sprintf("%.0f", amount.Round(0).InexactFloat64())
	}
	return printer.Sprintf("%.2f", amount.Round(2).InexactFloat64())
}

func ZeroDecimal(code string) bool {
	return zeroDecimalCurrencies[code]
}

func IsSupportedBy(method entity.Method, code string) bool {
	return methodCurrencies[method][code]
}

// FallbackCurrency returns the method's designated fallback currency, or ""
// when the method has none.
func FallbackCurrency(method entity.Method) string {
	return methodFallbackCurrency[method]
}

// ChargeAmount resolves the amount and currency actually charged for a
// method. When the selected currency is unsupported and the method has a
// fallback, the charge is recomputed from the base amount with the fallback
// currency's own rate, never reused from the original currency.
func ChargeAmount(method entity.Method, ctx entity.CurrencyContext, rates RateSource) (decimal.Decimal, string, error) {
	if IsSupportedBy(method, ctx.Code) {
		return Convert(ctx.BaseAmount, ctx.Rate).Round(2), ctx.Code, nil
	}

	fallback := FallbackCurrency(method)
	if fallback == "" {
		return decimal.Zero, "", fmt.Errorf("%w: %s for method %s", ErrUnsupportedCurrency, ctx.Code, method)
	}
	rate, ok := rates.Rate(fallback)
	if !ok {
		return decimal.Zero, "", fmt.Errorf("%w: no rate for fallback %s", ErrUnsupportedCurrency, fallback)
	}
	return Convert(ctx.BaseAmount, rate).Round(2), fallback, nil
}
