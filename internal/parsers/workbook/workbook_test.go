package workbook

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/parser"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	table, err := columnmap.LoadEmbedded()
	require.NoError(t, err)
	return New(table)
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "AGOSTO - 2025"))
	rows := [][]interface{}{
		{"CONTROLE FINANCEIRO"},
		{},
		{"Talão", "Status Pgto", "RGI", "Natureza", "Edf Adquirente", "Valor", "Sicase"},
		{"T001", "Pago", "RGI 10", "Compra e Venda", "Ed. Aurora", "1.500,27", "20250001"},
		{"T002", "A gerar", "RGI 11", "Doação", "Maria", "800,00", "20250002"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("AGOSTO - 2025", cell, &row))
	}

	_, err := f.NewSheet("Resumo")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Resumo", "A1", &[]interface{}{"Totais do ano", "12345"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestCanParse(t *testing.T) {
	p := newParser(t)
	assert.True(t, p.CanParse("controle.xlsx", nil))
	assert.True(t, p.CanParse("antigo.XLS", nil))
	assert.False(t, p.CanParse("dados.csv", []byte("a,b,c")))
	// extension missing but zip magic present
	assert.True(t, p.CanParse("upload", []byte{0x50, 0x4b, 0x03, 0x04, 0x00}))
	assert.True(t, p.CanParse("upload", []byte{0xd0, 0xcf, 0x11, 0xe0}))
}

func TestParseXLSX(t *testing.T) {
	p := newParser(t)
	data := buildWorkbook(t)

	res, err := p.Parse(context.Background(), bytes.NewReader(data), parser.Metadata{FileName: "controle.xlsx"})
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	g := res.Groups[0]
	assert.Equal(t, "AGOSTO - 2025", g.PeriodLabel)
	assert.Equal(t, "AGOSTO - 2025", g.Source)
	require.Len(t, g.Rows, 2)

	first := g.Rows[0]
	// header is on sheet row 3, first data row is 4
	assert.Equal(t, 4, first.Number)
	assert.Equal(t, "T001", first.Cells[columnmap.FieldTicket])
	assert.Equal(t, "1.500,27", first.Cells[columnmap.FieldFees])
	assert.Equal(t, 2, res.RowCount())

	// summary tab maps no columns: empty group with a warning, no rows
	summary := res.Groups[1]
	assert.Equal(t, "Resumo", summary.Source)
	assert.Empty(t, summary.Rows)
	assert.NotEmpty(t, summary.Warnings)
}

func TestParseHeaderWithoutMarkerTokens(t *testing.T) {
	// no banner and no known header token on row 1; the first row is
	// still mapped through the synonym table
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"Edf Adquirente", "Valor", "Corretor"},
		{"Ed. Central", "2.000,00", "100,00"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	p := newParser(t)
	res, err := p.Parse(context.Background(), bytes.NewReader(buf.Bytes()), parser.Metadata{FileName: "controle.xlsx", PeriodLabel: "AGOSTO - 2025"})
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	require.Len(t, g.Rows, 1)
	assert.Equal(t, "Ed. Central", g.Rows[0].Cells[columnmap.FieldParties])
	assert.Equal(t, "2.000,00", g.Rows[0].Cells[columnmap.FieldFees])
	assert.Equal(t, "100,00", g.Rows[0].Cells[columnmap.FieldBroker])
}

func TestParseAllSheetsUnmappableYieldsEmptyGroups(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Totais do ano", "12345"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	p := newParser(t)
	res, err := p.Parse(context.Background(), bytes.NewReader(buf.Bytes()), parser.Metadata{FileName: "resumo.xlsx"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Empty(t, res.Groups[0].Rows)
	assert.Zero(t, res.RowCount())
}

func TestParseRejectsNonWorkbook(t *testing.T) {
	p := newParser(t)
	_, err := p.Parse(context.Background(), bytes.NewReader([]byte("not a workbook")), parser.Metadata{FileName: "x.xlsx"})
	require.Error(t, err)
}

func TestFindHeaderRow(t *testing.T) {
	rows := [][]string{
		{"CONTROLE FINANCEIRO"},
		{""},
		{"Talão", "Status", "RGI"},
		{"T001", "Pago", "RGI 1"},
	}
	idx, ok := findHeaderRow(rows)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	_, ok = findHeaderRow([][]string{{"sem cabecalho"}, {"nada"}})
	assert.False(t, ok)
}

func TestSheetPeriodFallbacks(t *testing.T) {
	assert.Equal(t, "SETEMBRO - 2025", sheetPeriod("Setembro - 2025", parser.Metadata{}))
	assert.Equal(t, "JULHO - 2025", sheetPeriod("Planilha1", parser.Metadata{PeriodLabel: "JULHO - 2025"}))
	assert.Equal(t, "AGOSTO - 2025", sheetPeriod("Planilha1", parser.Metadata{FileName: "AGOSTO_2025.xlsx"}))
	assert.Equal(t, "PLANILHA1", sheetPeriod("Planilha1", parser.Metadata{FileName: "upload.xlsx"}))
}
