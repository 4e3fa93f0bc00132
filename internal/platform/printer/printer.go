// Package printer renders records as printable HTML documents. A page
// template defines a "content" block which is rendered inside the shared
// layout.
package printer

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/anesth/preop/internal/platform/blobstore"
	"github.com/anesth/preop/internal/platform/metrics"
)

// ContentType is the content type of every rendered document.
const ContentType = "text/html; charset=utf-8"

//go:embed layout.html
var layoutHTML string

var funcs = template.FuncMap{
	"yesno":    yesNo,
	"orDash":   orDash,
	"date":     func(t time.Time) string { return t.Format("02/01/2006") },
	"datetime": func(t time.Time) string { return t.Format("02/01/2006 15:04") },
}

var layout = template.Must(template.New("layout").Funcs(funcs).Parse(layoutHTML))

func yesNo(b bool) string {
	if b {
		return "Oui"
	}
	return "Non"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Template is a page parsed together with the layout.
type Template struct {
	t *template.Template
}

// Parse combines the layout with a page defining the "content" block.
func Parse(name, page string) (*Template, error) {
	t, err := layout.Clone()
	if err != nil {
		return nil, err
	}
	if _, err := t.New(name).Parse(page); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if t.Lookup("content") == nil {
		return nil, fmt.Errorf("parse %s: no content block", name)
	}
	return &Template{t: t}, nil
}

// Must panics when Parse fails; used for embedded templates.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}
	return t
}

type page struct {
	Title     string
	PrintedAt time.Time
	PrintedBy string
	Data      interface{}
}

// Render executes the page with data.
func (t *Template) Render(title, printedBy string, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := t.t.ExecuteTemplate(&buf, "layout", page{
		Title:     title,
		PrintedAt: time.Now(),
		PrintedBy: printedBy,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", title, err)
	}
	return buf.Bytes(), nil
}

// Archive stores a rendered document in the print archive.
func Archive(ctx context.Context, store blobstore.BlobStore, m *metrics.Registry, meta blobstore.BlobMetadata, body []byte) (*blobstore.BlobMetadata, error) {
	if meta.ContentType == "" {
		meta.ContentType = ContentType
	}
	saved, err := store.Upload(ctx, meta, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	m.DocumentArchived()
	return saved, nil
}
