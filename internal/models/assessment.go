package models

import (
	"encoding/json"
	"math"
)

type Outcome string

const (
	OutcomeApproved     Outcome = "Approved"
	OutcomePreQualified Outcome = "Pre-qualified with Conditions"
	OutcomeNeedsReview  Outcome = "Needs Manual Review"
)

// Ratio is a financial ratio that may be +Inf when its denominator is not positive.
// Non-finite values serialize as JSON null.
type Ratio float64

func (r Ratio) Finite() bool {
	f := float64(r)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Finite() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

type Metrics struct {
	DTIRatio Ratio `json:"dti_ratio"`
	LTVRatio Ratio `json:"ltv_ratio"`
}

type Assessment struct {
	Outcome Outcome `json:"outcome"`
	Notes   string  `json:"notes"`
}

// AssessmentResult is computed once when the last field is supplied and never recomputed.
type AssessmentResult struct {
	Inputs     FieldSet   `json:"user_inputs"`
	Metrics    Metrics    `json:"calculated_metrics"`
	Assessment Assessment `json:"assessment"`
}
