package catalog

import "fmt"

const microcentsPerUnit = 100_000_000

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "CA$",
	"AUD": "A$",
}

// FormatPrice renders a monthly price, e.g. 1200000000 USD as "$12.00/mo".
// Currencies without a symbol are prefixed with their code.
func FormatPrice(microcents int64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency + " "
	}
	return fmt.Sprintf("%s%.2f/mo", symbol, float64(microcents)/microcentsPerUnit)
}
