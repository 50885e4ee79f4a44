// internal/domain/route.go
package domain

import (
	"regexp"
	"strings"
)

type PayoutMethod string

const (
	// MethodWise routes through the Wise transfer API.
	MethodWise PayoutMethod = "wise"
	// MethodBankTransfer routes through the generic fallback provider.
	MethodBankTransfer PayoutMethod = "bank_transfer"
)

// PayoutRoute is the resolved destination for a payout: where the creator
// banks, in which currency they are paid, and which provider carries it.
type PayoutRoute struct {
	CountryCode string       `json:"country_code"`
	Currency    string       `json:"currency"`
	Method      PayoutMethod `json:"method"`
}

// DefaultRoute is the terminal fallback when nothing about the creator's
// location can be established.
var DefaultRoute = PayoutRoute{CountryCode: "US", Currency: "USD", Method: MethodBankTransfer}

// countryCurrencies maps ISO 3166-1 alpha-2 country codes to the payout
// currency used for creators in that country. Immutable after init.
var countryCurrencies = map[string]string{
	"US": "USD",
	"GB": "GBP",
	"CA": "CAD",
	"AU": "AUD",
	"NZ": "NZD",
	"DE": "EUR",
	"FR": "EUR",
	"ES": "EUR",
	"IT": "EUR",
	"NL": "EUR",
	"IE": "EUR",
	"PT": "EUR",
	"NG": "NGN",
	"KE": "KES",
	"GH": "GHS",
	"ZA": "ZAR",
	"TZ": "TZS",
	"UG": "UGX",
	"IN": "INR",
	"JP": "JPY",
	"BR": "BRL",
	"MX": "MXN",
	"SE": "SEK",
	"NO": "NOK",
	"DK": "DKK",
	"CH": "CHF",
	"PL": "PLN",
}

// currencyCountries is the reverse inference used when only a bank account
// currency is known. Shared currencies map to a representative country
// (EUR to DE) since the provider needs any country in the currency zone.
var currencyCountries = map[string]string{
	"USD": "US",
	"GBP": "GB",
	"CAD": "CA",
	"AUD": "AU",
	"NZD": "NZ",
	"EUR": "DE",
	"NGN": "NG",
	"KES": "KE",
	"GHS": "GH",
	"ZAR": "ZA",
	"TZS": "TZ",
	"UGX": "UG",
	"INR": "IN",
	"JPY": "JP",
	"BRL": "BR",
	"MXN": "MX",
	"SEK": "SE",
	"NOK": "NO",
	"DKK": "DK",
	"CHF": "CH",
	"PLN": "PL",
}

// wiseCountries is the allowlist of countries payable through Wise. Everyone
// else routes to the generic bank transfer provider.
var wiseCountries = map[string]bool{
	"US": true, "GB": true, "CA": true, "AU": true, "NZ": true,
	"DE": true, "FR": true, "ES": true, "IT": true, "NL": true,
	"IE": true, "PT": true, "SE": true, "NO": true, "DK": true,
	"CH": true, "PL": true, "NG": true, "KE": true, "ZA": true,
	"IN": true, "JP": true, "BR": true, "MX": true,
}

// nigerianBankCodes are the 3-digit NUBAN institution codes we recognise when
// inferring a country from a decrypted routing identifier.
var nigerianBankCodes = map[string]bool{
	"011": true, // First Bank
	"033": true, // UBA
	"044": true, // Access Bank
	"057": true, // Zenith Bank
	"058": true, // GTBank
	"070": true, // Fidelity Bank
}

var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// CurrencyForCountry returns the payout currency for a country code.
func CurrencyForCountry(countryCode string) (string, bool) {
	currency, ok := countryCurrencies[strings.ToUpper(countryCode)]
	return currency, ok
}

// CountryForCurrency infers a country from a bank account currency.
func CountryForCurrency(currency string) (string, bool) {
	country, ok := currencyCountries[strings.ToUpper(currency)]
	return country, ok
}

// CountryForRoutingCode infers a country from a decrypted routing identifier
// by recognising national bank-code formats.
func CountryForRoutingCode(code string) (string, bool) {
	normalized := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(code)))
	if normalized == "" {
		return "", false
	}

	if ifscPattern.MatchString(normalized) {
		return "IN", true
	}

	if isDigits(normalized) {
		switch len(normalized) {
		case 9: // ABA routing number
			return "US", true
		case 6: // UK sort code
			return "GB", true
		case 8: // German Bankleitzahl
			return "DE", true
		case 3:
			if nigerianBankCodes[normalized] {
				return "NG", true
			}
		}
		if len(normalized) == 10 && nigerianBankCodes[normalized[:3]] {
			// NUBAN account-with-bank-code form
			return "NG", true
		}
	}

	return "", false
}

// RouteForCountry builds the full route for a country, choosing Wise for
// allowlisted countries and the generic provider otherwise. Unknown countries
// fall back to the default route.
func RouteForCountry(countryCode string) PayoutRoute {
	cc := strings.ToUpper(countryCode)
	currency, ok := countryCurrencies[cc]
	if !ok {
		return DefaultRoute
	}
	method := MethodBankTransfer
	if wiseCountries[cc] {
		method = MethodWise
	}
	return PayoutRoute{CountryCode: cc, Currency: currency, Method: method}
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
