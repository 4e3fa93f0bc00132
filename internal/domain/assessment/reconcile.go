package assessment

import (
	"strings"
	"time"

	"github.com/anesth/preop/internal/domain/scoring"
)

// Reconcile recomputes every derived field of r from its inputs.
func Reconcile(r *Record) {
	deriveAge(r)
	deriveBMI(r)
	deriveStopBang(r)
	deriveApfel(r)
	deriveLee(r)
	derivePostopPain(r)
	deriveDayAdmission(r)
}

func deriveAge(r *Record) {
	r.Derived.Age = AgeAt(r.Patient.BirthDate, r.Patient.ConsultationDate)
}

func deriveBMI(r *Record) {
	r.Derived.BMI = scoring.BMIFromText(r.Physical.Weight, r.Physical.Height)
}

// deriveStopBang also refreshes the day-admission outcome, which depends on
// the apnea risk.
func deriveStopBang(r *Record) {
	r.Derived.StopBang = scoring.StopBang(r.StopBang)
	deriveDayAdmission(r)
}

func deriveApfel(r *Record) {
	r.Derived.Apfel = scoring.Apfel(r.Apfel)
}

func deriveLee(r *Record) {
	r.Derived.Lee = scoring.Lee(r.Lee)
}

func derivePostopPain(r *Record) {
	r.Derived.PostopPain = scoring.PostopPain(r.PostopPain)
}

func deriveDayAdmission(r *Record) {
	apnea := scoring.StopBang(r.StopBang).ApneaRisk
	r.Derived.DayAdmission = r.DayAdmission.Classify(apnea)
	r.Derived.DayAdmissionLabel = r.Derived.DayAdmission.Label()
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// ParseDate accepts the date formats the form produces.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AgeAt returns the age in whole years on the consultation date, or nil when
// either date is missing, unparsable, or the birth date is later.
func AgeAt(birthDate, onDate string) *int {
	birth, ok := ParseDate(birthDate)
	if !ok {
		return nil
	}
	on, ok := ParseDate(onDate)
	if !ok || on.Before(birth) {
		return nil
	}
	age := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		age--
	}
	return &age
}
