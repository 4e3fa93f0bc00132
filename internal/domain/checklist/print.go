package checklist

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/platform/blobstore"
	"github.com/anesth/preop/internal/platform/metrics"
	"github.com/anesth/preop/internal/platform/printer"
)

//go:embed print.html
var printHTML string

var printTemplate = printer.Must(printer.Parse("checklist", printHTML))

var statusLabels = map[Status]string{
	StatusInProgress:            "En cours",
	StatusComplete:              "Complète",
	StatusCompleteWithDeviation: "Complète avec écart",
}

var answerLabels = map[Answer]string{
	Unanswered:    "-",
	Yes:           "Oui",
	No:            "Non",
	NotApplicable: "N/A",
}

type itemView struct {
	Item
	AnswerLabel string
}

type phaseView struct {
	Title string
	Items []itemView
}

type printView struct {
	Checklist   *Checklist
	PatientName string
	Phases      []phaseView
	StatusLabel string
	Deviation   bool
}

func phaseOf(title string, items []Item) phaseView {
	v := phaseView{Title: title}
	for _, it := range items {
		v.Items = append(v.Items, itemView{Item: it, AnswerLabel: answerLabels[it.Answer]})
	}
	return v
}

// Render returns the printable checklist. patientName is printed as given.
func Render(c *Checklist, patientName, printedBy string) ([]byte, error) {
	c.Derive()
	v := printView{
		Checklist:   c,
		PatientName: patientName,
		Phases: []phaseView{
			phaseOf("Avant induction anesthésique", c.Phases.BeforeInduction),
			phaseOf("Avant intervention chirurgicale", c.Phases.BeforeIncision),
			phaseOf("Après intervention", c.Phases.AfterIntervention),
		},
		StatusLabel: statusLabels[c.Status],
		Deviation:   c.Status == StatusCompleteWithDeviation,
	}
	return printTemplate.Render("Check-list sécurité au bloc opératoire", printedBy, v)
}

// PatientNamer looks up the display name printed on the document.
type PatientNamer interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
}

type Printer struct {
	svc     *Service
	names   PatientNamer
	archive blobstore.BlobStore
	metrics *metrics.Registry
}

func NewPrinter(svc *Service, names PatientNamer, archive blobstore.BlobStore, m *metrics.Registry) *Printer {
	return &Printer{svc: svc, names: names, archive: archive, metrics: m}
}

// Print renders checklist id and, when archive is set, stores the result.
func (p *Printer) Print(ctx context.Context, id uuid.UUID, actor string, archive bool) ([]byte, *blobstore.BlobMetadata, error) {
	c, err := p.svc.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var name string
	if p.names != nil {
		// a missing name does not block printing
		name, _ = p.names.DisplayName(ctx, c.PatientID)
	}
	body, err := Render(c, name, actor)
	if err != nil {
		return nil, nil, err
	}
	if !archive || p.archive == nil {
		return body, nil, nil
	}
	meta, err := printer.Archive(ctx, p.archive, p.metrics, blobstore.BlobMetadata{
		PatientID: c.PatientID.String(),
		RecordID:  c.ID.String(),
		Kind:      "checklist",
		FileName:  fmt.Sprintf("checklist-%s.html", c.ID.String()[:8]),
		CreatedBy: actor,
	}, body)
	if err != nil {
		return nil, nil, err
	}
	return body, meta, nil
}
