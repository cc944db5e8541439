// Package parser defines the strategy interface shared by all
// spreadsheet parsers and the raw row structures they produce.
package parser

import (
	"context"
	"io"

	"github.com/cartorio-systems/escriba/internal/columnmap"
)

// Parser is the strategy interface for all file format parsers
type Parser interface {
	// Name returns the parser identifier (e.g. "csv", "workbook")
	Name() string

	// CanParse checks if this parser can handle the file. header holds
	// up to the first 512 bytes for magic-number detection.
	CanParse(path string, header []byte) bool

	// Parse extracts raw rows from the file. The reader is consumed in
	// full; parsers must not assume it is seekable.
	Parse(ctx context.Context, r io.Reader, meta Metadata) (*FileResult, error)
}

// Metadata carries per-file context the parser cannot derive from the
// content alone.
type Metadata struct {
	// FileName is the original upload name, used for format detection
	// and, for single-table formats, period label inference.
	FileName string

	// PeriodLabel overrides the inferred reference period when set.
	PeriodLabel string
}

// RawRow is one data row after header mapping, before normalization.
// Cells are keyed by canonical field; headers that mapped to nothing
// are dropped with a group-level warning.
type RawRow struct {
	// Number is the 1-based position in the source, counting the
	// header row. Error messages reference it.
	Number int
	Cells  map[columnmap.Field]string
}

// Group is one table of rows sharing a reference period: a whole CSV
// file, or a single workbook sheet.
type Group struct {
	// PeriodLabel is the reference period in "MONTH - YYYY" form, or
	// empty when none could be inferred.
	PeriodLabel string

	// Source names where the rows came from: the sheet name for
	// workbooks, the file name for CSV.
	Source string

	Headers  []string
	Warnings []string
	Rows     []RawRow
}

// FileResult is everything parsed out of one uploaded file.
type FileResult struct {
	FileName string
	Groups   []Group
}

// RowCount returns the total data rows across all groups.
func (f *FileResult) RowCount() int {
	n := 0
	for _, g := range f.Groups {
		n += len(g.Rows)
	}
	return n
}
