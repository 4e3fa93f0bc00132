package assessment

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

var printTemplate = printer.Must(printer.Parse("assessment", printHTML))

type printView struct {
	Record      Record
	Final       bool
	FinalizedBy string
	FinalizedAt string
}

// Render returns the printable consultation document.
func Render(a *Assessment, printedBy string) ([]byte, error) {
	v := printView{Record: a.Record, Final: a.Status == StatusFinal}
	if a.FinalizedBy != nil {
		v.FinalizedBy = *a.FinalizedBy
	}
	if a.FinalizedAt != nil {
		v.FinalizedAt = a.FinalizedAt.Format("02/01/2006 15:04")
	}
	return printTemplate.Render("Consultation pré-anesthésique", printedBy, v)
}

// Printer renders assessments and optionally archives the result.
type Printer struct {
	svc     *Service
	archive blobstore.BlobStore
	metrics *metrics.Registry
}

func NewPrinter(svc *Service, archive blobstore.BlobStore, m *metrics.Registry) *Printer {
	return &Printer{svc: svc, archive: archive, metrics: m}
}

// Print renders assessment id. When archive is set the document is stored
// in the print archive and its metadata returned.
func (p *Printer) Print(ctx context.Context, id uuid.UUID, actor string, archive bool) ([]byte, *blobstore.BlobMetadata, error) {
	a, err := p.svc.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := Render(a, actor)
	if err != nil {
		return nil, nil, err
	}
	if !archive || p.archive == nil {
		return body, nil, nil
	}
	meta, err := printer.Archive(ctx, p.archive, p.metrics, blobstore.BlobMetadata{
		PatientID: a.PatientID.String(),
		RecordID:  a.ID.String(),
		Kind:      "assessment",
		FileName:  fmt.Sprintf("consultation-%s-%s.html", a.Record.Patient.Identifier, a.ID.String()[:8]),
		CreatedBy: actor,
	}, body)
	if err != nil {
		return nil, nil, err
	}
	return body, meta, nil
}
