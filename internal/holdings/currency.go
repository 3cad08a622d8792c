package holdings

import "strings"

var suffixCurrencies = map[string]string{
	".T":  "JPY",
	".JP": "JPY",
	".OS": "JPY",
	".L":  "GBP",
	".AS": "EUR",
	".PA": "EUR",
	".DE": "EUR",
	".MI": "EUR",
	".MC": "EUR",
	".SW": "CHF",
	".TO": "CAD",
	".V":  "CAD",
	".AX": "AUD",
	".HK": "HKD",
	".SS": "CNY",
	".SZ": "CNY",
	".KS": "KRW",
	".SI": "SGD",
}

// CurrencyForTicker infers the trading currency from the exchange suffix
// of a ticker (e.g. 7203.T trades in JPY). Tickers without a known
// suffix default to USD.
func CurrencyForTicker(ticker string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if idx := strings.LastIndex(ticker, "."); idx >= 0 {
		if currency, ok := suffixCurrencies[ticker[idx:]]; ok {
			return currency
		}
	}
	return "USD"
}
