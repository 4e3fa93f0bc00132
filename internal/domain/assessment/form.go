package assessment

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/anesth/preop/internal/domain/scoring"
	"github.com/anesth/preop/internal/platform/apperr"
)

// Section names used by the form and the section update endpoint.
const (
	SectionPatient         = "patient"
	SectionIntervention    = "intervention"
	SectionClinicalHistory = "clinical_history"
	SectionStopBang        = "stop_bang"
	SectionApfel           = "apfel"
	SectionLee             = "lee"
	SectionPostopPain      = "postop_pain"
	SectionPhysical        = "physical"
	SectionDayAdmission    = "day_admission"
	SectionAnesthesia      = "anesthesia"
)

// Listener is called after a section changed and its dependent fields were
// recomputed.
type Listener func(section string, r Record)

// Form is the single entry point for editing a record. Each setter replaces
// one section and recomputes exactly the derived fields that depend on it,
// so derived values can never be stale or set by hand.
type Form struct {
	rec       Record
	listeners []Listener
}

// NewForm reconciles r and wraps it.
func NewForm(r Record) *Form {
	r = r.Clone()
	Reconcile(&r)
	return &Form{rec: r}
}

// Record returns a copy of the current record.
func (f *Form) Record() Record { return f.rec.Clone() }

func (f *Form) OnChange(l Listener) { f.listeners = append(f.listeners, l) }

func (f *Form) changed(section string) {
	for _, l := range f.listeners {
		l(section, f.rec.Clone())
	}
}

func (f *Form) SetPatient(p PatientInfo) {
	f.rec.Patient = p
	deriveAge(&f.rec)
	f.changed(SectionPatient)
}

func (f *Form) SetIntervention(i Intervention) {
	f.rec.Intervention = i
	f.changed(SectionIntervention)
}

func (f *Form) SetClinicalHistory(h ClinicalHistory) {
	f.rec.ClinicalHistory = h
	f.changed(SectionClinicalHistory)
}

func (f *Form) SetStopBang(s scoring.StopBangFactors) {
	f.rec.StopBang = s
	deriveStopBang(&f.rec)
	f.changed(SectionStopBang)
}

func (f *Form) SetApfel(a scoring.ApfelFactors) {
	f.rec.Apfel = a
	deriveApfel(&f.rec)
	f.changed(SectionApfel)
}

func (f *Form) SetLee(l scoring.LeeFactors) {
	f.rec.Lee = l
	deriveLee(&f.rec)
	f.changed(SectionLee)
}

func (f *Form) SetPostopPain(p scoring.PostopPainFactors) {
	f.rec.PostopPain = p
	derivePostopPain(&f.rec)
	f.changed(SectionPostopPain)
}

func (f *Form) SetPhysical(p Physical) {
	f.rec.Physical = p
	deriveBMI(&f.rec)
	f.changed(SectionPhysical)
}

func (f *Form) SetDayAdmission(d scoring.DayAdmissionFactors) {
	f.rec.DayAdmission = d
	deriveDayAdmission(&f.rec)
	f.changed(SectionDayAdmission)
}

func (f *Form) SetAnesthesia(a Anesthesia) {
	f.rec.Anesthesia = a
	f.changed(SectionAnesthesia)
}

// SetSection decodes raw into the named section and applies it. Unknown
// sections, unknown fields and malformed JSON are rejected without touching
// the record.
func (f *Form) SetSection(name string, raw []byte) error {
	switch name {
	case SectionPatient:
		var v PatientInfo
		return decodeThen(raw, &v, func() { f.SetPatient(v) })
	case SectionIntervention:
		var v Intervention
		return decodeThen(raw, &v, func() { f.SetIntervention(v) })
	case SectionClinicalHistory:
		var v ClinicalHistory
		return decodeThen(raw, &v, func() { f.SetClinicalHistory(v) })
	case SectionStopBang:
		var v scoring.StopBangFactors
		return decodeThen(raw, &v, func() { f.SetStopBang(v) })
	case SectionApfel:
		var v scoring.ApfelFactors
		return decodeThen(raw, &v, func() { f.SetApfel(v) })
	case SectionLee:
		var v scoring.LeeFactors
		return decodeThen(raw, &v, func() { f.SetLee(v) })
	case SectionPostopPain:
		var v scoring.PostopPainFactors
		return decodeThen(raw, &v, func() { f.SetPostopPain(v) })
	case SectionPhysical:
		var v Physical
		return decodeThen(raw, &v, func() { f.SetPhysical(v) })
	case SectionDayAdmission:
		var v scoring.DayAdmissionFactors
		return decodeThen(raw, &v, func() { f.SetDayAdmission(v) })
	case SectionAnesthesia:
		var v Anesthesia
		return decodeThen(raw, &v, func() { f.SetAnesthesia(v) })
	case "derived":
		return apperr.Validation("derived fields are computed and cannot be edited")
	}
	return apperr.Validation("unknown section %q", name)
}

func decodeThen(raw []byte, v interface{}, apply func()) error {
	if err := decodeStrict(raw, v); err != nil {
		return err
	}
	apply()
	return nil
}

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return apperr.Validation("invalid JSON: unexpected data after value")
	}
	return nil
}
