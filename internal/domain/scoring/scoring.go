// Package scoring implements the pre-anesthesia risk scores and derived
// values. Every function is pure: missing answers count as "no" and nothing
// here returns an error.
package scoring

const (
	// ApneaRiskThreshold is the STOP-BANG score from which the patient is
	// considered at risk of obstructive sleep apnea.
	ApneaRiskThreshold = 3
	// SeverePainThreshold must be exceeded for a severe postoperative pain risk.
	SeverePainThreshold = 4
)

func count(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func StopBang(f StopBangFactors) StopBangResult {
	score := count(f.Snoring, f.Tired, f.ObservedApnea, f.Pressure,
		f.BMIOver35, f.AgeOver50, f.NeckOver40, f.Male)
	return StopBangResult{Score: score, ApneaRisk: score >= ApneaRiskThreshold}
}

func Apfel(f ApfelFactors) ApfelResult {
	score := count(f.FemaleSex, f.NonSmoker, f.PONVHistory, f.PostopOpioids)
	return ApfelResult{Score: score, PONVRiskPercent: lookup(ApfelTable, score)}
}

func Lee(f LeeFactors) LeeResult {
	score := count(f.HighRiskSurgery, f.IschemicHeartDisease, f.HeartFailure,
		f.CerebrovascularDisease, f.InsulinTherapy, f.CreatinineOver2)
	risk := lookup(LeeTable, score)
	return LeeResult{Score: score, Class: risk.Class, ComplicationRiskPercent: risk.Percent}
}

// PainRule is one weighted item of the postoperative pain questionnaire.
type PainRule struct {
	Name    string
	Points  int
	Applies func(PostopPainFactors) bool
}

// PainRules lists the questionnaire weights. Enum questions only score for
// the values named here.
var PainRules = []PainRule{
	{"female_sex", 1, func(f PostopPainFactors) bool { return f.FemaleSex.IsYes() }},
	{"age", 1, func(f PostopPainFactors) bool { return f.AgeBracket == AgeUnder30 || f.AgeBracket == AgeOver65 }},
	{"preop_pain_at_site", 2, func(f PostopPainFactors) bool { return f.PreopPainAtSite.IsYes() }},
	{"opioid_use", 2, func(f PostopPainFactors) bool { return f.OpioidUse.IsYes() }},
	{"antidepressant_use", 1, func(f PostopPainFactors) bool { return f.AntidepressantUse.IsYes() }},
	{"tomie_surgery", 2, func(f PostopPainFactors) bool { return f.TomieSurgery.IsYes() }},
	{"surgery_type", 1, func(f PostopPainFactors) bool {
		return f.SurgeryType == SurgeryOrthopedic || f.SurgeryType == SurgeryThoracic
	}},
	{"long_surgery", 1, func(f PostopPainFactors) bool { return f.LongSurgery.IsYes() }},
	{"severe_obesity", 1, func(f PostopPainFactors) bool { return f.SevereObesity.IsYes() }},
	{"high_anxiety", 2, func(f PostopPainFactors) bool { return f.HighAnxiety.IsYes() }},
}

func PostopPain(f PostopPainFactors) PostopPainResult {
	score := 0
	for _, r := range PainRules {
		if r.Applies(f) {
			score += r.Points
		}
	}
	return PostopPainResult{Score: score, SevereRisk: score > SeverePainThreshold}
}
