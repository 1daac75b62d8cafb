package dialogue

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type consent int

const (
	consentUnclear consent = iota
	consentProceed
	consentDecline
)

func classifyConsent(raw string) consent {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "PROCEED"):
		return consentProceed
	case strings.Contains(upper, "DECLINE"):
		return consentDecline
	default:
		return consentUnclear
	}
}

// parseAmount reads an interpreter answer as a finite number. Thousands
// separators are tolerated; the INVALID sentinel and anything else is rejected.
func parseAmount(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if cleaned == "" || strings.EqualFold(cleaned, invalidSentinel) {
		return 0, false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

var dollarPrinter = message.NewPrinter(language.English)

// formatDollars renders whole dollars with thousands separators, e.g. 85000 -> "85,000".
func formatDollars(value float64) string {
	return dollarPrinter.Sprintf("%.0f", value)
}
