// internal/domain/route_test.go
package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteForCountry(t *testing.T) {
	tests := []struct {
		name    string
		country string
		want    PayoutRoute
	}{
		{"wise corridor", "NG", PayoutRoute{CountryCode: "NG", Currency: "NGN", Method: MethodWise}},
		{"lowercase input", "ng", PayoutRoute{CountryCode: "NG", Currency: "NGN", Method: MethodWise}},
		{"outside the wise allowlist", "GH", PayoutRoute{CountryCode: "GH", Currency: "GHS", Method: MethodBankTransfer}},
		{"euro zone", "FR", PayoutRoute{CountryCode: "FR", Currency: "EUR", Method: MethodWise}},
		{"unknown country falls back", "XX", DefaultRoute},
		{"empty input falls back", "", DefaultRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RouteForCountry(tt.country))
		})
	}
}

func TestCurrencyForCountry(t *testing.T) {
	currency, ok := CurrencyForCountry("ke")
	assert.True(t, ok)
	assert.Equal(t, "KES", currency)

	_, ok = CurrencyForCountry("ZZ")
	assert.False(t, ok)
}

func TestCountryForCurrency(t *testing.T) {
	country, ok := CountryForCurrency("eur")
	assert.True(t, ok)
	assert.Equal(t, "DE", country, "shared currencies map to a representative country")

	_, ok = CountryForCurrency("XOF")
	assert.False(t, ok)
}

func TestCountryForRoutingCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		country string
		ok      bool
	}{
		{"indian IFSC", "HDFC0001234", "IN", true},
		{"lowercase IFSC", "hdfc0001234", "IN", true},
		{"US ABA routing number", "021000021", "US", true},
		{"UK sort code", "404784", "GB", true},
		{"UK sort code with dashes", "40-47-84", "GB", true},
		{"german bankleitzahl", "10070000", "DE", true},
		{"nigerian bank code", "044", "NG", true},
		{"NUBAN with bank code prefix", "0581234567", "NG", true},
		{"ten digits with unknown prefix", "9991234567", "", false},
		{"unrecognised three digits", "999", "", false},
		{"too short", "12345", "", false},
		{"letters only", "ABCDEF", "", false},
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			country, ok := CountryForRoutingCode(tt.code)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.country, country)
		})
	}
}

func TestDefaultRoute(t *testing.T) {
	assert.Equal(t, "US", DefaultRoute.CountryCode)
	assert.Equal(t, "USD", DefaultRoute.Currency)
	assert.Equal(t, MethodBankTransfer, DefaultRoute.Method)
}
