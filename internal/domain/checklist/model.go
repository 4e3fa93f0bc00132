package checklist

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the value of one checklist item.
type Answer string

const (
	Unanswered    Answer = ""
	Yes           Answer = "yes"
	No            Answer = "no"
	NotApplicable Answer = "na"
)

func (a Answer) Valid() bool {
	switch a {
	case Unanswered, Yes, No, NotApplicable:
		return true
	}
	return false
}

// Status is derived from the answers.
type Status string

const (
	StatusInProgress            Status = "in-progress"
	StatusComplete              Status = "complete"
	StatusCompleteWithDeviation Status = "complete-with-deviation"
)

// Phase names, in the order the checks are performed.
const (
	PhaseBeforeInduction   = "before_induction"
	PhaseBeforeIncision    = "before_incision"
	PhaseAfterIntervention = "after_intervention"
)

type Item struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	Answer  Answer `json:"answer"`
	Comment string `json:"comment,omitempty"`
}

type Phases struct {
	BeforeInduction   []Item `json:"before_induction"`
	BeforeIncision    []Item `json:"before_incision"`
	AfterIntervention []Item `json:"after_intervention"`
}

// Phase returns the items of the named phase.
func (p *Phases) Phase(name string) ([]Item, bool) {
	switch name {
	case PhaseBeforeInduction:
		return p.BeforeInduction, true
	case PhaseBeforeIncision:
		return p.BeforeIncision, true
	case PhaseAfterIntervention:
		return p.AfterIntervention, true
	}
	return nil, false
}

func (p *Phases) all() [][]Item {
	return [][]Item{p.BeforeInduction, p.BeforeIncision, p.AfterIntervention}
}

func (p Phases) clone() Phases {
	return Phases{
		BeforeInduction:   append([]Item(nil), p.BeforeInduction...),
		BeforeIncision:    append([]Item(nil), p.BeforeIncision...),
		AfterIntervention: append([]Item(nil), p.AfterIntervention...),
	}
}

// Checklist maps to the checklist table. Phases are stored as JSONB.
type Checklist struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	AssessmentID      *uuid.UUID `db:"assessment_id" json:"assessment_id,omitempty"`
	InterventionLabel string     `db:"intervention_label" json:"intervention_label"`
	InterventionDate  *time.Time `db:"intervention_date" json:"intervention_date,omitempty"`
	Room              string     `db:"room" json:"room,omitempty"`
	Coordinator       string     `db:"coordinator" json:"coordinator,omitempty"`
	Phases            Phases     `db:"data" json:"phases"`
	Status            Status     `db:"status" json:"status"`
	Complete          bool       `json:"complete"`
	CreatedBy         string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Derive recomputes Status and Complete from the answers. A checklist is
// complete when every item is answered; any "no" is a deviation.
func (c *Checklist) Derive() {
	answered, deviation := true, false
	for _, items := range c.Phases.all() {
		for _, it := range items {
			switch it.Answer {
			case Unanswered:
				answered = false
			case No:
				deviation = true
			}
		}
	}
	switch {
	case !answered:
		c.Status = StatusInProgress
	case deviation:
		c.Status = StatusCompleteWithDeviation
	default:
		c.Status = StatusComplete
	}
	c.Complete = c.Status != StatusInProgress
}

// Deviations returns the items answered "no".
func (c *Checklist) Deviations() []Item {
	var out []Item
	for _, items := range c.Phases.all() {
		for _, it := range items {
			if it.Answer == No {
				out = append(out, it)
			}
		}
	}
	return out
}
