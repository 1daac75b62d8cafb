package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownField = errors.New("models: unknown field")

type CreditTier string

const (
	CreditExcellent CreditTier = "Excellent"
	CreditGood      CreditTier = "Good"
	CreditFair      CreditTier = "Fair"
	CreditPoor      CreditTier = "Poor"
)

var creditTiers = []CreditTier{CreditExcellent, CreditGood, CreditFair, CreditPoor}

// ParseCreditTier matches raw against the four tiers, ignoring case,
// surrounding whitespace, quotes and a trailing period.
func ParseCreditTier(raw string) (CreditTier, bool) {
	cleaned := strings.Trim(strings.TrimSpace(raw), "\"'.")
	for _, tier := range creditTiers {
		if strings.EqualFold(cleaned, string(tier)) {
			return tier, true
		}
	}
	return "", false
}

// Field names the five collected facts. Values double as storage column names.
type Field string

const (
	FieldAnnualIncome  Field = "annual_income"
	FieldMonthlyDebt   Field = "monthly_debt"
	FieldCreditTier    Field = "credit_score_category"
	FieldPropertyValue Field = "property_value"
	FieldDownPayment   Field = "down_payment"
)

// FieldOrder is the collection order. A field is never set before the ones preceding it.
var FieldOrder = []Field{
	FieldAnnualIncome,
	FieldMonthlyDebt,
	FieldCreditTier,
	FieldPropertyValue,
	FieldDownPayment,
}

func (f Field) Valid() bool {
	for _, known := range FieldOrder {
		if f == known {
			return true
		}
	}
	return false
}

func (f Field) Numeric() bool {
	return f.Valid() && f != FieldCreditTier
}

// FieldValue carries either a numeric amount or a credit tier, depending on the field.
type FieldValue struct {
	Number float64
	Tier   CreditTier
}

func NumberValue(v float64) FieldValue {
	return FieldValue{Number: v}
}

func TierValue(t CreditTier) FieldValue {
	return FieldValue{Tier: t}
}

// FieldSet holds the financial facts collected for one conversation.
type FieldSet struct {
	AnnualIncome  *float64    `json:"annual_income"`
	MonthlyDebt   *float64    `json:"monthly_debt"`
	CreditTier    *CreditTier `json:"credit_score_category"`
	PropertyValue *float64    `json:"property_value"`
	DownPayment   *float64    `json:"down_payment"`
}

func (s FieldSet) IsSet(field Field) bool {
	switch field {
	case FieldAnnualIncome:
		return s.AnnualIncome != nil
	case FieldMonthlyDebt:
		return s.MonthlyDebt != nil
	case FieldCreditTier:
		return s.CreditTier != nil
	case FieldPropertyValue:
		return s.PropertyValue != nil
	case FieldDownPayment:
		return s.DownPayment != nil
	default:
		return false
	}
}

func (s FieldSet) Empty() bool {
	for _, field := range FieldOrder {
		if s.IsSet(field) {
			return false
		}
	}
	return true
}

func (s FieldSet) Complete() bool {
	_, missing := s.FirstMissing()
	return !missing
}

// FirstMissing returns the earliest field in collection order that is not yet set.
func (s FieldSet) FirstMissing() (Field, bool) {
	for _, field := range FieldOrder {
		if !s.IsSet(field) {
			return field, true
		}
	}
	return "", false
}

// Apply stores value under field.
func (s *FieldSet) Apply(field Field, value FieldValue) error {
	number := value.Number
	switch field {
	case FieldAnnualIncome:
		s.AnnualIncome = &number
	case FieldMonthlyDebt:
		s.MonthlyDebt = &number
	case FieldCreditTier:
		if value.Tier == "" {
			return fmt.Errorf("models: credit tier value is empty")
		}
		tier := value.Tier
		s.CreditTier = &tier
	case FieldPropertyValue:
		s.PropertyValue = &number
	case FieldDownPayment:
		s.DownPayment = &number
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}
