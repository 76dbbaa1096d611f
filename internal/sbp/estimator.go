// Package sbp estimates systolic blood pressure from pulse transit time and
// a patient's risk profile.
//
// The regression is SBP = a0 + a1*exp(-a2*PTT). Each parameter starts from a
// fixed base and is adjusted by the profile. Results are reported with two
// decimals using the same rounding as the web dashboards (ties away from
// zero on the exact binary value), so the figures match what patients see.
package sbp

import (
	"math"
	"math/big"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

const (
	baseA0 = 105.0
	baseA1 = 40.0
	baseA2 = 0.005
)

// Params are the regression coefficients for one patient.
type Params struct {
	A0 float64 `json:"a0"`
	A1 float64 `json:"a1"`
	A2 float64 `json:"a2"`
}

// Estimate is a computed SBP with its display form.
type Estimate struct {
	Params
	PTT       float64 `json:"ptt"`
	SBP       float64 `json:"sbp"`
	Formatted string  `json:"formatted"`
}

// ParamsFor derives the coefficients. The float64 conversions keep every
// product rounded on its own so no platform fuses it into an FMA.
func ParamsFor(p models.RiskProfile) Params {
	a0, a1, a2 := baseA0, baseA1, baseA2

	if p.Age > 30 {
		years := p.Age - 30
		a0 += float64(years * 0.2)
		a1 += float64(years * 1)
		a2 += float64(years * 0.0001)
	}
	if p.Gender == models.Female {
		a0 -= 3
	}
	if p.Smoking == models.Yes {
		a0 += 5
		a1 += 5
	}
	if p.Exercise == models.Yes {
		a0 -= 5
		a1 -= 5
	}
	if p.Hypertension == models.Yes {
		a0 += 10
		a1 += 10
		a2 += 0.001
	}
	switch p.BloodPressure {
	case models.BPLow:
		a0 -= 10
	case models.BPHigh:
		a0 += 10
	}
	return Params{A0: a0, A1: a1, A2: a2}
}

// Compute applies the regression to a PTT value.
func (p Params) Compute(ptt float64) float64 {
	return p.A0 + float64(p.A1*math.Exp(float64(-p.A2*ptt)))
}

// Validate rejects profiles and PTT values the formula cannot take.
func Validate(p models.RiskProfile, ptt float64) error {
	err := validation.Errors{
		"age": validation.Validate(p.Age, validation.By(finite)),
		"ptt": validation.Validate(ptt, validation.By(finite)),
	}.Filter()
	return apperror.FromValidation(err)
}

// EstimateSBP validates the inputs and returns the estimate.
func EstimateSBP(p models.RiskProfile, ptt float64) (Estimate, error) {
	if err := Validate(p, ptt); err != nil {
		return Estimate{}, err
	}
	params := ParamsFor(p)
	sbp := params.Compute(ptt)
	if math.IsNaN(sbp) || math.IsInf(sbp, 0) {
		return Estimate{}, apperror.Validation("SBP is not finite for PTT %v", ptt)
	}
	return Estimate{Params: params, PTT: ptt, SBP: sbp, Formatted: FormatFixed2(sbp)}, nil
}

// FormatFixed2 renders x with two decimals, rounding the exact binary value
// to the nearest hundredth with ties away from zero.
func FormatFixed2(x float64) string {
	neg := x < 0
	if neg {
		x = -x
	}

	scaled := new(big.Float).SetPrec(256).SetFloat64(x)
	scaled.Mul(scaled, big.NewFloat(100))

	n, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(256).Sub(scaled, new(big.Float).SetInt(n))
	if frac.Cmp(big.NewFloat(0.5)) >= 0 {
		n.Add(n, big.NewInt(1))
	}

	digits := n.String()
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	out := digits[:len(digits)-2] + "." + digits[len(digits)-2:]
	if neg {
		out = "-" + out
	}
	return out
}

func finite(value interface{}) error {
	v, _ := value.(float64)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return validation.NewError("validation_not_finite", "must be a finite number")
	}
	return nil
}
