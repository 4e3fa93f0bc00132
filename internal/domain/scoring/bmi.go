package scoring

import (
	"math"
	"strconv"
	"strings"
)

// BMI returns weight / (height in meters)^2 rounded to one decimal. ok is
// false when either input is not a finite positive number.
func BMI(weightKg, heightCm float64) (bmi float64, ok bool) {
	if !finitePositive(weightKg) || !finitePositive(heightCm) {
		return 0, false
	}
	m := heightCm / 100
	v := weightKg / (m * m)
	if !finitePositive(v) {
		return 0, false
	}
	return math.Round(v*10) / 10, true
}

// BMIFromText computes the BMI from raw form values ("70", "70,5", " 175 ").
// It returns "" when the BMI cannot be computed.
func BMIFromText(weight, height string) string {
	w, ok := parseMeasure(weight)
	if !ok {
		return ""
	}
	h, ok := parseMeasure(height)
	if !ok {
		return ""
	}
	v, ok := BMI(w, h)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func parseMeasure(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, finitePositive(v)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
