package fixture

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"GBP": "£",
	"EUR": "€",
	"JPY": "¥",
}

var amountPrinter = message.NewPrinter(language.English)

// DisplayPolicy is the wire shape of one policy: every field except id is
// already formatted for display.
type DisplayPolicy struct {
	ID           int64  `json:"id"`
	PolicyNumber string `json:"policy_number"`
	InsuredName  string `json:"insured_name"`
	Premium      string `json:"premium"`
	Status       string `json:"status"`
	PolicyType   string `json:"policy_type"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

func Display(r Record) DisplayPolicy {
	return DisplayPolicy{
		ID:           r.ID,
		PolicyNumber: r.PolicyNumber,
		InsuredName:  r.InsuredName,
		Premium:      FormatPremium(r.PremiumMinor, r.Currency),
		Status:       cases.Title(language.English).String(string(r.Status)),
		PolicyType:   string(r.PolicyType),
		StartDate:    r.StartDate.Format("02/01/2006"),
		EndDate:      r.EndDate.Format("02/01/2006"),
	}
}

// FormatPremium renders an amount in minor units with its currency symbol
// (falling back to the code) and thousands separators. Whole amounts drop the
// decimals.
func FormatPremium(minor int64, currency string) string {
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency
	}
	if minor%100 == 0 {
		return symbol + amountPrinter.Sprintf("%d", minor/100)
	}
	return symbol + amountPrinter.Sprintf("%.2f", float64(minor)/100)
}

// ValidatePolicyNumber applies the backend's policy number rules. The returned
// error message is sent to clients verbatim.
func ValidatePolicyNumber(n string) error {
	if utf8.RuneCountInString(strings.TrimSpace(n)) < 5 {
		return validationError("Policy number must be at least 5 characters long")
	}
	for _, r := range n {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return validationError("Policy number must be alphanumeric")
		}
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }
