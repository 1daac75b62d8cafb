// Package eligibility maps collected financial facts to a preliminary mortgage outcome.
package eligibility

import (
	"errors"
	"math"
	"strings"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

const (
	// MaxDTIRatio is the exclusive debt-to-income ceiling for the first two outcomes.
	MaxDTIRatio = 0.43
	// MaxStandardLTV is the exclusive loan-to-value ceiling for approval.
	MaxStandardLTV = 0.80
	// MaxConditionalLTV is the inclusive loan-to-value ceiling for pre-qualification.
	MaxConditionalLTV = 0.95
)

var ErrIncompleteInputs = errors.New("eligibility: annual income, monthly debt, property value and down payment are required")

// DTIRatio returns monthly debt over monthly income, or +Inf when income is not positive.
func DTIRatio(annualIncome, monthlyDebt float64) float64 {
	if annualIncome <= 0 {
		return math.Inf(1)
	}
	return monthlyDebt / (annualIncome / 12)
}

// LTVRatio returns the financed share of the property value, or +Inf when the value is not positive.
// A down payment above the property value yields a negative ratio.
func LTVRatio(propertyValue, downPayment float64) float64 {
	if propertyValue <= 0 {
		return math.Inf(1)
	}
	return (propertyValue - downPayment) / propertyValue
}

type facts struct {
	dti  float64
	ltv  float64
	tier *models.CreditTier
}

func (f facts) tierIn(tiers ...models.CreditTier) bool {
	if f.tier == nil {
		return false
	}
	for _, t := range tiers {
		if *f.tier == t {
			return true
		}
	}
	return false
}

type rule struct {
	outcome models.Outcome
	applies func(facts) bool
	notes   func(facts) string
}

// rules are checked top-down; the first match decides the outcome.
var rules = []rule{
	{
		outcome: models.OutcomeApproved,
		applies: func(f facts) bool {
			return f.dti < MaxDTIRatio && f.ltv < MaxStandardLTV && f.tierIn(models.CreditGood, models.CreditExcellent)
		},
		notes: constantNotes("User meets all preliminary criteria for a standard mortgage."),
	},
	{
		outcome: models.OutcomePreQualified,
		applies: func(f facts) bool {
			return f.dti < MaxDTIRatio && f.ltv >= MaxStandardLTV && f.ltv <= MaxConditionalLTV
		},
		notes: constantNotes("User pre-qualifies but will need PMI due to high LTV ratio."),
	},
	{
		outcome: models.OutcomeNeedsReview,
		applies: func(facts) bool { return true },
		notes:   reviewNotes,
	},
}

func constantNotes(text string) func(facts) string {
	return func(facts) string { return text }
}

func reviewNotes(f facts) string {
	reasons := ReviewReasons(f.dti, f.ltv, f.tier)
	if len(reasons) == 0 {
		return "Manual review required."
	}
	return "Manual review required. Issues: " + strings.Join(reasons, ", ") + "."
}

// ReviewReasons lists every condition that contributes to a manual review.
func ReviewReasons(dti, ltv float64, tier *models.CreditTier) []string {
	f := facts{dti: dti, ltv: ltv, tier: tier}
	reasons := make([]string, 0, 3)
	if f.dti >= MaxDTIRatio {
		reasons = append(reasons, "DTI ratio is above 43%")
	}
	if f.tierIn(models.CreditFair, models.CreditPoor) {
		reasons = append(reasons, "Credit score needs improvement")
	}
	if f.ltv > MaxConditionalLTV {
		reasons = append(reasons, "Down payment is insufficient")
	}
	return reasons
}

// Evaluate computes both ratios and applies the outcome rules. The credit tier is
// not required: when it is missing the fields can only reach pre-qualification or review.
func Evaluate(fields models.FieldSet) (*models.AssessmentResult, error) {
	if fields.AnnualIncome == nil || fields.MonthlyDebt == nil || fields.PropertyValue == nil || fields.DownPayment == nil {
		return nil, ErrIncompleteInputs
	}

	f := facts{
		dti:  DTIRatio(*fields.AnnualIncome, *fields.MonthlyDebt),
		ltv:  LTVRatio(*fields.PropertyValue, *fields.DownPayment),
		tier: fields.CreditTier,
	}

	var matched rule
	for _, r := range rules {
		if r.applies(f) {
			matched = r
			break
		}
	}

	return &models.AssessmentResult{
		Inputs: fields,
		Metrics: models.Metrics{
			DTIRatio: models.Ratio(f.dti),
			LTVRatio: models.Ratio(f.ltv),
		},
		Assessment: models.Assessment{
			Outcome: matched.outcome,
			Notes:   matched.notes(f),
		},
	}, nil
}
