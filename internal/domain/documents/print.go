package documents

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/platform/blobstore"
	"github.com/anesth/preop/internal/platform/metrics"
	"github.com/anesth/preop/internal/platform/printer"
)

var (
	//go:embed consent.html
	consentHTML string
	//go:embed report.html
	reportHTML string
)

var templates = map[Kind]*printer.Template{
	KindConsent: printer.Must(printer.Parse("consent", consentHTML)),
	KindReport:  printer.Must(printer.Parse("report", reportHTML)),
}

type printView struct {
	Document    *Document
	PatientName string
}

// Render returns the printable document for d.
func Render(d *Document, patientName, printedBy string) ([]byte, error) {
	t, ok := templates[d.Kind]
	if !ok {
		return nil, fmt.Errorf("no print template for %q", d.Kind)
	}
	d.Derive()
	title := d.Title
	if title == "" {
		title = "Compte rendu"
	}
	return t.Render(title, printedBy, printView{Document: d, PatientName: patientName})
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

// Print renders document id and, when archive is set, stores the result
// under the document's kind.
func (p *Printer) Print(ctx context.Context, id uuid.UUID, actor string, archive bool) ([]byte, *blobstore.BlobMetadata, error) {
	d, err := p.svc.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var name string
	if p.names != nil {
		name, _ = p.names.DisplayName(ctx, d.PatientID)
	}
	body, err := Render(d, name, actor)
	if err != nil {
		return nil, nil, err
	}
	if !archive || p.archive == nil {
		return body, nil, nil
	}
	meta, err := printer.Archive(ctx, p.archive, p.metrics, blobstore.BlobMetadata{
		PatientID: d.PatientID.String(),
		RecordID:  d.ID.String(),
		Kind:      string(d.Kind),
		FileName:  fmt.Sprintf("%s-%s.html", d.Kind, d.ID.String()[:8]),
		CreatedBy: actor,
	}, body)
	if err != nil {
		return nil, nil, err
	}
	return body, meta, nil
}
