package scoring

// Answer is a yes/no form value as captured by the consultation form.
// Anything other than Yes counts as "no".
type Answer string

const (
	Yes Answer = "Oui"
	No  Answer = "Non"
)

func (a Answer) IsYes() bool { return a == Yes }

// AnswerOf converts a boolean into its form value.
func AnswerOf(b bool) Answer {
	if b {
		return Yes
	}
	return No
}

// AgeBracket is the age answer of the postoperative pain questionnaire.
type AgeBracket string

const (
	AgeUnder30 AgeBracket = "< 30 ans"
	Age30To65  AgeBracket = "30 - 65 ans"
	AgeOver65  AgeBracket = "> 65 ans"
)

// SurgeryType is the surgical specialty answer of the postoperative pain questionnaire.
type SurgeryType string

const (
	SurgeryOrthopedic SurgeryType = "Orthopédique"
	SurgeryThoracic   SurgeryType = "Thoracique"
	SurgeryAbdominal  SurgeryType = "Abdominale"
	SurgeryOther      SurgeryType = "Autre"
)

// StopBangFactors holds the eight STOP-BANG questions.
type StopBangFactors struct {
	Snoring       bool `json:"snoring"`
	Tired         bool `json:"tired"`
	ObservedApnea bool `json:"observed_apnea"`
	Pressure      bool `json:"pressure"`
	BMIOver35     bool `json:"bmi_over_35"`
	AgeOver50     bool `json:"age_over_50"`
	NeckOver40    bool `json:"neck_over_40"`
	Male          bool `json:"male"`
}

type StopBangResult struct {
	Score     int  `json:"score"`
	ApneaRisk bool `json:"apnea_risk"`
}

// ApfelFactors holds the four Apfel PONV risk factors.
type ApfelFactors struct {
	FemaleSex     bool `json:"female_sex"`
	NonSmoker     bool `json:"non_smoker"`
	PONVHistory   bool `json:"ponv_history"`
	PostopOpioids bool `json:"postop_opioids"`
}

type ApfelResult struct {
	Score           int `json:"score"`
	PONVRiskPercent int `json:"ponv_risk_percent"`
}

// LeeFactors holds the six Revised Cardiac Risk Index factors.
type LeeFactors struct {
	HighRiskSurgery        bool `json:"high_risk_surgery"`
	IschemicHeartDisease   bool `json:"ischemic_heart_disease"`
	HeartFailure           bool `json:"heart_failure"`
	CerebrovascularDisease bool `json:"cerebrovascular_disease"`
	InsulinTherapy         bool `json:"insulin_therapy"`
	CreatinineOver2        bool `json:"creatinine_over_2"`
}

type LeeResult struct {
	Score                   int     `json:"score"`
	Class                   string  `json:"class"`
	ComplicationRiskPercent float64 `json:"complication_risk_percent"`
}

// PostopPainFactors holds the ten questions of the severe postoperative pain
// risk questionnaire.
type PostopPainFactors struct {
	FemaleSex         Answer      `json:"female_sex"`
	AgeBracket        AgeBracket  `json:"age_bracket"`
	PreopPainAtSite   Answer      `json:"preop_pain_at_site"`
	OpioidUse         Answer      `json:"opioid_use"`
	AntidepressantUse Answer      `json:"antidepressant_use"`
	TomieSurgery      Answer      `json:"tomie_surgery"`
	SurgeryType       SurgeryType `json:"surgery_type"`
	LongSurgery       Answer      `json:"long_surgery"`
	SevereObesity     Answer      `json:"severe_obesity"`
	HighAnxiety       Answer      `json:"high_anxiety"`
}

type PostopPainResult struct {
	Score      int  `json:"score"`
	SevereRisk bool `json:"severe_risk"`
}

// Eligibility is the outcome of the day-admission checklist.
type Eligibility string

const (
	Admitted    Eligibility = "admitted"
	NeedsReview Eligibility = "needs-review"
	NotAdmitted Eligibility = "not-admitted"
)

// Label returns the wording printed on consultation documents.
func (e Eligibility) Label() string {
	switch e {
	case Admitted:
		return "Admis en ambulatoire"
	case NeedsReview:
		return "À discuter"
	case NotAdmitted:
		return "Non admis en ambulatoire"
	}
	return ""
}

// DayAdmissionFactors holds the same-day discharge checklist. SleepApnea is
// the clinician's manual answer; it is kept for display only, the rule uses
// the STOP-BANG apnea risk instead.
type DayAdmissionFactors struct {
	ASAUncontrolled         bool `json:"asa_uncontrolled"`
	SleepApnea              bool `json:"sleep_apnea"`
	SignificantBleedingRisk bool `json:"significant_bleeding_risk"`
	UnaccompaniedOvernight  bool `json:"unaccompanied_overnight"`
	AgeOver75               bool `json:"age_over_75"`
	UncontrollablePain      bool `json:"uncontrollable_pain"`
	ReturnsHomeAlone        bool `json:"returns_home_alone"`
	DrivesAfterProcedure    bool `json:"drives_after_procedure"`
}
