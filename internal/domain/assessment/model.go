package assessment

import (
	"time"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/domain/scoring"
)

type Status string

const (
	StatusDraft Status = "draft"
	StatusFinal Status = "final"
)

// Flag is a clinical history item: present or not, with free-text detail.
type Flag struct {
	Present bool   `json:"present"`
	Detail  string `json:"detail,omitempty"`
}

// PatientInfo is the identity block as typed on the form. Dates are kept as
// entered (YYYY-MM-DD or DD/MM/YYYY).
type PatientInfo struct {
	FamilyName       string `json:"family_name"`
	GivenName        string `json:"given_name"`
	Identifier       string `json:"identifier"`
	BirthDate        string `json:"birth_date"`
	Sex              string `json:"sex"`
	ConsultationDate string `json:"consultation_date"`
}

type Intervention struct {
	Label      string `json:"label"`
	Date       string `json:"date"`
	Ambulatory bool   `json:"ambulatory"`
	Surgeon    string `json:"surgeon,omitempty"`
	Side       string `json:"side,omitempty"`
}

type Hemostasis struct {
	BleedingHistory       Flag `json:"bleeding_history"`
	FamilyBleedingHistory Flag `json:"family_bleeding_history"`
	Anticoagulant         Flag `json:"anticoagulant"`
	Antiplatelet          Flag `json:"antiplatelet"`
}

type ClinicalHistory struct {
	Allergies    Flag       `json:"allergies"`
	Pyrosis      Flag       `json:"pyrosis"`
	Reflux       Flag       `json:"reflux"`
	Smoking      Flag       `json:"smoking"`
	Hepatitis    Flag       `json:"hepatitis"`
	Alcohol      Flag       `json:"alcohol"`
	Cardiac      Flag       `json:"cardiac"`
	Pacemaker    Flag       `json:"pacemaker"`
	Hypertension Flag       `json:"hypertension"`
	Diabetes     Flag       `json:"diabetes"`
	RenalDisease Flag       `json:"renal_disease"`
	Hemostasis   Hemostasis `json:"hemostasis"`

	SurgicalHistory   string `json:"surgical_history,omitempty"`
	AnesthesiaHistory string `json:"anesthesia_history,omitempty"`
	Treatments        string `json:"treatments,omitempty"`
}

// Physical holds the examination values as typed; Weight (kg) and Height
// (cm) feed the BMI.
type Physical struct {
	Weight          string `json:"weight"`
	Height          string `json:"height"`
	SystolicBP      string `json:"systolic_bp"`
	DiastolicBP     string `json:"diastolic_bp"`
	Pulse           string `json:"pulse"`
	RespiratoryRate string `json:"respiratory_rate"`
	WeightLoss      Flag   `json:"weight_loss"`
	Mallampati      string `json:"mallampati,omitempty"`
	MouthOpening    string `json:"mouth_opening,omitempty"`
}

// Anesthesia is the anesthesiologist's plan and conclusion.
type Anesthesia struct {
	ASAClass      string `json:"asa_class"`
	Technique     string `json:"technique"`
	Premedication string `json:"premedication,omitempty"`
	Fasting       string `json:"fasting,omitempty"`
	Conclusion    string `json:"conclusion,omitempty"`
}

// Derived is always recomputed from the other sections. Values supplied by
// clients are overwritten.
type Derived struct {
	Age               *int                     `json:"age,omitempty"`
	BMI               string                   `json:"bmi"`
	StopBang          scoring.StopBangResult   `json:"stop_bang"`
	Apfel             scoring.ApfelResult      `json:"apfel"`
	Lee               scoring.LeeResult        `json:"lee"`
	PostopPain        scoring.PostopPainResult `json:"postop_pain"`
	DayAdmission      scoring.Eligibility      `json:"day_admission"`
	DayAdmissionLabel string                   `json:"day_admission_label"`
}

// Record is one pre-anesthesia consultation.
type Record struct {
	Patient         PatientInfo                 `json:"patient"`
	Intervention    Intervention                `json:"intervention"`
	ClinicalHistory ClinicalHistory             `json:"clinical_history"`
	StopBang        scoring.StopBangFactors     `json:"stop_bang"`
	Apfel           scoring.ApfelFactors        `json:"apfel"`
	Lee             scoring.LeeFactors          `json:"lee"`
	PostopPain      scoring.PostopPainFactors   `json:"postop_pain"`
	Physical        Physical                    `json:"physical"`
	DayAdmission    scoring.DayAdmissionFactors `json:"day_admission"`
	Anesthesia      Anesthesia                  `json:"anesthesia"`
	Derived         Derived                     `json:"derived"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r.Derived.Age != nil {
		age := *r.Derived.Age
		r.Derived.Age = &age
	}
	return r
}

// Assessment maps to the assessment table. The record is stored as JSONB;
// scores are copied into columns for listing and filtering.
type Assessment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status      Status     `db:"status" json:"status"`
	Record      Record     `db:"data" json:"record"`
	CreatedBy   string     `db:"created_by" json:"created_by,omitempty"`
	FinalizedBy *string    `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Summary is the list row shown in the consultation index.
type Summary struct {
	ID               uuid.UUID           `json:"id"`
	PatientID        uuid.UUID           `json:"patient_id"`
	Identifier       string              `json:"identifier"`
	PatientName      string              `json:"patient_name"`
	Intervention     string              `json:"intervention"`
	ConsultationDate string              `json:"consultation_date"`
	Status           Status              `json:"status"`
	ASAClass         string              `json:"asa_class"`
	StopBangScore    int                 `json:"stop_bang_score"`
	ApfelScore       int                 `json:"apfel_score"`
	LeeScore         int                 `json:"lee_score"`
	PostopPainScore  int                 `json:"postop_pain_score"`
	DayAdmission     scoring.Eligibility `json:"day_admission"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (a *Assessment) Summary() Summary {
	r := a.Record
	name := r.Patient.FamilyName
	if r.Patient.GivenName != "" {
		if name != "" {
			name += " "
		}
		name += r.Patient.GivenName
	}
	return Summary{
		ID:               a.ID,
		PatientID:        a.PatientID,
		Identifier:       r.Patient.Identifier,
		PatientName:      name,
		Intervention:     r.Intervention.Label,
		ConsultationDate: r.Patient.ConsultationDate,
		Status:           a.Status,
		ASAClass:         r.Anesthesia.ASAClass,
		StopBangScore:    r.Derived.StopBang.Score,
		ApfelScore:       r.Derived.Apfel.Score,
		LeeScore:         r.Derived.Lee.Score,
		PostopPainScore:  r.Derived.PostopPain.Score,
		DayAdmission:     r.Derived.DayAdmission,
		UpdatedAt:        a.UpdatedAt,
	}
}
