package documents

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the document type.
type Kind string

const (
	KindConsent Kind = "consent"
	KindReport  Kind = "report"
)

// Status is derived from the content.
type Status string

const (
	StatusPending Status = "pending"
	StatusSigned  Status = "signed"
	StatusRefused Status = "refused"
	StatusDraft   Status = "draft"
	StatusWritten Status = "written"
)

// Consent is the anesthesia consent: what the patient was told and their
// signature or refusal.
type Consent struct {
	Technique        string `json:"technique"`
	InformationGiven bool   `json:"information_given"`
	InformationDate  string `json:"information_date,omitempty"`
	RisksExplained   string `json:"risks_explained,omitempty"`
	Questions        string `json:"questions,omitempty"`
	SignatoryName    string `json:"signatory_name,omitempty"`
	// SignatoryRole is empty for the patient, else e.g. "parent", "tuteur".
	SignatoryRole string `json:"signatory_role,omitempty"`
	SignedOn      string `json:"signed_on,omitempty"`
	Refused       bool   `json:"refused"`
	RefusalReason string `json:"refusal_reason,omitempty"`
}

// Section is one titled block of free text in a report.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Report is an anesthesia or operative report.
type Report struct {
	Title    string    `json:"title"`
	Date     string    `json:"date,omitempty"`
	Sections []Section `json:"sections"`
}

// Document maps to the document table. The consent or report body is stored
// as JSONB; exactly one of them is set, matching Kind.
type Document struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	AssessmentID *uuid.UUID `db:"assessment_id" json:"assessment_id,omitempty"`
	Kind         Kind       `db:"kind" json:"kind"`
	Status       Status     `db:"status" json:"status"`
	Title        string     `db:"title" json:"title"`
	Consent      *Consent   `json:"consent,omitempty"`
	Report       *Report    `json:"report,omitempty"`
	Author       string     `db:"author" json:"author,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Derive sets Status and Title from the content.
func (d *Document) Derive() {
	switch d.Kind {
	case KindConsent:
		d.Title = "Consentement à l'anesthésie"
		switch c := d.Consent; {
		case c == nil:
			d.Status = StatusPending
		case c.Refused:
			d.Status = StatusRefused
		case c.SignatoryName != "" && c.SignedOn != "":
			d.Status = StatusSigned
		default:
			d.Status = StatusPending
		}
	case KindReport:
		d.Status = StatusDraft
		if d.Report == nil {
			return
		}
		d.Title = d.Report.Title
		for _, s := range d.Report.Sections {
			if s.Body != "" {
				d.Status = StatusWritten
				return
			}
		}
	}
}
