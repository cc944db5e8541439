// Package csvfile parses the office's CSV control sheets. The files
// arrive with no fixed delimiter (comma, semicolon, or tab depending on
// which machine exported them), so the delimiter is sniffed from the
// header line before decoding.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/parser"
	"github.com/cartorio-systems/escriba/internal/period"
)

var candidateDelimiters = []rune{',', ';', '\t'}

// Parser reads delimiter-sniffed CSV files into raw row groups.
type Parser struct {
	table *columnmap.Table
}

// New creates a CSV parser using the given header synonym table.
func New(table *columnmap.Table) *Parser {
	return &Parser{table: table}
}

// Name returns the parser identifier
func (p *Parser) Name() string { return "csv" }

// CanParse accepts .csv files by extension.
func (p *Parser) CanParse(path string, _ []byte) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

// Parse reads the whole file as one group. The reference period comes
// from the metadata override or, failing that, the file name.
func (p *Parser) Parse(_ context.Context, r io.Reader, meta parser.Metadata) (*parser.FileResult, error) {
	headerLine, lineNo, scanner, err := firstContentLine(r)
	if err != nil {
		return nil, err
	}

	delim := SniffDelimiter(headerLine)
	headers := splitLine(headerLine, delim)
	fieldByHeader, warnings := p.table.MapHeaders(headers)
	if len(fieldByHeader) == 0 {
		return nil, fmt.Errorf("%s: nenhuma coluna reconhecida no cabeçalho", meta.FileName)
	}

	group := parser.Group{
		PeriodLabel: meta.PeriodLabel,
		Source:      filepath.Base(meta.FileName),
		Headers:     headers,
		Warnings:    warnings,
	}
	if group.PeriodLabel == "" {
		if label, ok := period.FromFileName(meta.FileName); ok {
			group.PeriodLabel = label
		}
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitLine(line, delim)
		row := parser.RawRow{Number: lineNo, Cells: make(map[columnmap.Field]string)}
		empty := true
		for i, h := range headers {
			field, ok := fieldByHeader[h]
			if !ok || i >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[i])
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
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", meta.FileName, err)
	}

	return &parser.FileResult{
		FileName: meta.FileName,
		Groups:   []parser.Group{group},
	}, nil
}

// firstContentLine advances to the first non-blank line and returns it
// together with its 1-based line number and the scanner positioned on
// the remaining lines.
func firstContentLine(r io.Reader) (string, int, *bufio.Scanner, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")
		if strings.TrimSpace(line) != "" {
			return line, lineNo, scanner, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", 0, nil, err
	}
	return "", 0, nil, fmt.Errorf("arquivo vazio")
}

// SniffDelimiter picks the candidate that yields the most non-empty
// fields on the header line. Comma wins ties by candidate order.
func SniffDelimiter(headerLine string) rune {
	best := candidateDelimiters[0]
	bestCount := -1
	for _, d := range candidateDelimiters {
		count := 0
		for _, f := range splitLine(headerLine, d) {
			if strings.TrimSpace(f) != "" {
				count++
			}
		}
		if count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

// splitLine decodes one line with encoding/csv so quoted fields keep
// embedded delimiters. A malformed line degrades to a plain split.
func splitLine(line string, delim rune) []string {
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return strings.Split(line, string(delim))
	}
	return fields
}
