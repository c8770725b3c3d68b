package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	dErrors "lagerkoll/pkg/domain-errors"
)

var testColumns = []Column{
	{Name: "Artikelnummer", Aliases: []string{"articleNumber"}, Required: true},
	{Name: "Beskrivning", Aliases: []string{"description"}},
	{Name: "Lagerplats", Aliases: []string{"location"}},
}

// workbook builds an xlsx file from literal rows.
func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadLocatesColumnsByHeader(t *testing.T) {
	buf := workbook(t,
		[]any{"Location", "ARTICLE_NUMBER", "ignored"},
		[]any{"A-01", "ART-1", "x"},
		[]any{},
		[]any{"", " ART-2 "},
	)

	table, err := Read(buf, testColumns)
	require.NoError(t, err)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, "ART-1", table.Cell(0, "Artikelnummer"))
	assert.Equal(t, "A-01", table.Cell(0, "Lagerplats"))
	assert.Equal(t, "ART-2", table.Cell(1, "Artikelnummer"))
	assert.Equal(t, "", table.Cell(1, "Lagerplats"))
	assert.Equal(t, "", table.Cell(0, "Beskrivning"), "absent optional column reads as empty")
}

func TestReadRejects(t *testing.T) {
	t.Run("missing required column", func(t *testing.T) {
		_, err := Read(workbook(t, []any{"Beskrivning"}, []any{"Skruv"}), testColumns)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Contains(t, dErrors.MessageOf(err), "Artikelnummer")
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := Read(strings.NewReader("articleNumber,description\nART-1,Skruv\n"), testColumns)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("empty worksheet", func(t *testing.T) {
		_, err := Read(workbook(t), testColumns)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, "Artiklar", testColumns, [][]any{
		{"ART-1", "Skruv M6", "A-01"},
		{"ART-2", "", "B-07"},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Artiklar"}, f.GetSheetList())

	table, err := Read(&buf, testColumns)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "Skruv M6", table.Cell(0, "Beskrivning"))
	assert.Equal(t, "B-07", table.Cell(1, "Lagerplats"))
}
