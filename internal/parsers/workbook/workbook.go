// Package workbook parses Excel control sheets. Modern .xlsx files go
// through excelize; legacy .xls files fall back to the BIFF reader.
// Each sheet becomes one group, with the sheet name carrying the
// reference period ("AGOSTO - 2025" and the like).
package workbook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"

	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/parser"
	"github.com/cartorio-systems/escriba/internal/period"
)

var (
	zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}
	oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0}
)

// Header rows in the office sheets are preceded by banner and summary
// rows; the header is recognized by these tokens (normalized form).
var headerTokens = []string{"talao", "status", "rgi", "natureza", "sicase"}

// maxHeaderScan bounds how deep the header-row search goes.
const maxHeaderScan = 10

// Parser reads .xlsx and .xls workbooks into raw row groups.
type Parser struct {
	table *columnmap.Table
}

// New creates a workbook parser using the given header synonym table.
func New(table *columnmap.Table) *Parser {
	return &Parser{table: table}
}

// Name returns the parser identifier
func (p *Parser) Name() string { return "workbook" }

// CanParse accepts .xlsx/.xls by extension, or by the zip and OLE
// magic numbers when the extension lies.
func (p *Parser) CanParse(path string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return true
	}
	return bytes.HasPrefix(header, zipMagic) || bytes.HasPrefix(header, oleMagic)
}

// Parse loads every sheet of the workbook as its own group.
func (p *Parser) Parse(_ context.Context, r io.Reader, meta parser.Metadata) (*parser.FileResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", meta.FileName, err)
	}

	sheets, err := loadSheets(data)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", meta.FileName, err)
	}

	result := &parser.FileResult{FileName: meta.FileName}
	for _, s := range sheets {
		result.Groups = append(result.Groups, p.buildGroup(s, meta))
	}
	return result, nil
}

type sheetData struct {
	name string
	rows [][]string
}

// loadSheets tries the xlsx reader first, then the legacy BIFF reader.
func loadSheets(data []byte) ([]sheetData, error) {
	if f, err := excelize.OpenReader(bytes.NewReader(data)); err == nil {
		defer f.Close()
		var sheets []sheetData
		for _, name := range f.GetSheetList() {
			rows, err := f.GetRows(name)
			if err != nil {
				continue
			}
			sheets = append(sheets, sheetData{name: name, rows: rows})
		}
		return sheets, nil
	}

	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var sheets []sheetData
	for _, sheet := range wb.GetSheets() {
		var rows [][]string
		for _, row := range sheet.GetRows() {
			var cells []string
			for _, cell := range row.GetCols() {
				cells = append(cells, cell.GetString())
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetData{name: sheet.GetName(), rows: rows})
	}
	return sheets, nil
}

// buildGroup maps one sheet into a group. A sheet with no mappable
// columns, usually a summary tab, becomes an empty group carrying a
// warning, never an error.
func (p *Parser) buildGroup(s sheetData, meta parser.Metadata) parser.Group {
	group := parser.Group{
		PeriodLabel: sheetPeriod(s.name, meta),
		Source:      s.name,
	}
	if len(s.rows) == 0 {
		return group
	}

	// banner and summary rows push the header down; when no row carries
	// a known token the first row is taken as the header anyway
	headerIdx, found := findHeaderRow(s.rows)
	if !found {
		headerIdx = 0
	}

	headers := s.rows[headerIdx]
	fieldByHeader, warnings := p.table.MapHeaders(headers)
	group.Headers = headers
	group.Warnings = warnings
	if len(fieldByHeader) == 0 {
		group.Warnings = append(group.Warnings, fmt.Sprintf("aba %q: nenhuma coluna reconhecida", s.name))
		return group
	}

	for i := headerIdx + 1; i < len(s.rows); i++ {
		cells := s.rows[i]
		row := parser.RawRow{Number: i + 1, Cells: make(map[columnmap.Field]string)}
		empty := true
		for j, h := range headers {
			field, mapped := fieldByHeader[h]
			if !mapped || j >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[j])
			if v == "" {
				continue
			}
			row.Cells[field] = v
			empty = false
		}
		if !empty {
			group.Rows = append(group.Rows, row)
		}
	}
	return group
}

// findHeaderRow locates the first row whose cells mention any of the
// well-known column tokens.
func findHeaderRow(rows [][]string) (int, bool) {
	limit := len(rows)
	if limit > maxHeaderScan {
		limit = maxHeaderScan
	}
	for i := 0; i < limit; i++ {
		for _, cell := range rows[i] {
			normalized := columnmap.Normalize(cell)
			for _, tok := range headerTokens {
				if strings.Contains(normalized, tok) {
					return i, true
				}
			}
		}
	}
	return 0, false
}

// sheetPeriod derives the group's reference period. The sheet name
// wins; the upload metadata and file name are fallbacks.
func sheetPeriod(sheetName string, meta parser.Metadata) string {
	if label, ok := period.FromFileName(sheetName); ok {
		return label
	}
	if meta.PeriodLabel != "" {
		return meta.PeriodLabel
	}
	if label, ok := period.FromFileName(meta.FileName); ok {
		return label
	}
	return strings.ToUpper(strings.TrimSpace(sheetName))
}
