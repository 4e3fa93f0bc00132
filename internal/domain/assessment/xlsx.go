package assessment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the MIME type of the spreadsheet export.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Consultations"

var xlsxColumns = []struct {
	header string
	width  float64
	value  func(s Summary) interface{}
}{
	{"IPP", 14, func(s Summary) interface{} { return s.Identifier }},
	{"Patient", 28, func(s Summary) interface{} { return s.PatientName }},
	{"Date consultation", 18, func(s Summary) interface{} { return s.ConsultationDate }},
	{"Intervention", 32, func(s Summary) interface{} { return s.Intervention }},
	{"Statut", 10, func(s Summary) interface{} { return string(s.Status) }},
	{"ASA", 6, func(s Summary) interface{} { return s.ASAClass }},
	{"STOP-BANG", 11, func(s Summary) interface{} { return s.StopBangScore }},
	{"Apfel", 8, func(s Summary) interface{} { return s.ApfelScore }},
	{"Lee", 6, func(s Summary) interface{} { return s.LeeScore }},
	{"Douleur postop", 15, func(s Summary) interface{} { return s.PostopPainScore }},
	{"Ambulatoire", 24, func(s Summary) interface{} { return s.DayAdmission.Label() }},
	{"Mis à jour", 18, func(s Summary) interface{} { return s.UpdatedAt.Format("02/01/2006 15:04") }},
}

// WriteXLSX builds a workbook with one row per assessment.
func WriteXLSX(items []*Assessment) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, c := range xlsxColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, c.header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("set header style: %w", err)
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, col, col, c.width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for r, a := range items {
		s := a.Summary()
		for i, c := range xlsxColumns {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, c.value(s)); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// exportPageSize bounds each repository read while collecting the export.
const exportPageSize = 200

// ExportXLSX writes every assessment matching params to a workbook.
func (s *Service) ExportXLSX(ctx context.Context, params map[string]string) ([]byte, int, error) {
	var all []*Assessment
	for offset := 0; ; offset += exportPageSize {
		items, total, err := s.repo.Search(ctx, params, exportPageSize, offset)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			break
		}
	}
	data, err := WriteXLSX(all)
	if err != nil {
		return nil, 0, err
	}
	return data, len(all), nil
}
