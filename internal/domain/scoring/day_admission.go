package scoring

// DayAdmission classifies same-day discharge eligibility.
//
// One strong contraindication or two weak ones exclude the ambulatory
// pathway; a single weak one requires review.
func DayAdmission(strong, weak []bool) Eligibility {
	s, w := count(strong...), count(weak...)
	switch {
	case s >= 1 || w >= 2:
		return NotAdmitted
	case w == 1:
		return NeedsReview
	default:
		return Admitted
	}
}

// Strong returns the strong contraindications. apneaRisk comes from the
// STOP-BANG score and replaces the manual sleep apnea answer.
func (f DayAdmissionFactors) Strong(apneaRisk bool) []bool {
	return []bool{f.ASAUncontrolled, apneaRisk, f.SignificantBleedingRisk}
}

func (f DayAdmissionFactors) Weak() []bool {
	return []bool{
		f.UnaccompaniedOvernight,
		f.AgeOver75,
		f.UncontrollablePain,
		f.ReturnsHomeAlone,
		f.DrivesAfterProcedure,
	}
}

// Classify applies DayAdmission to the checklist.
func (f DayAdmissionFactors) Classify(apneaRisk bool) Eligibility {
	return DayAdmission(f.Strong(apneaRisk), f.Weak())
}
