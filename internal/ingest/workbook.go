package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptySheet reports a data sheet with no rows at all.
var ErrEmptySheet = errors.New("sheet is empty")

// Workbook sheet conventions observed in the logger exports: a
// summary sheet carrying device identity in fixed cells, and a data
// sheet holding the reading rows.
const (
	defaultModelCell  = "B3"
	defaultSerialCell = "B4"
)

// summarySheetNames are matched case-insensitively as prefixes, so
// "Resumo Geral" still counts as a summary sheet.
var summarySheetNames = []string{"resumo", "summary"}

// dataSheetNames are preferred data sheets; when none match, the
// first non-summary sheet is used.
var dataSheetNames = []string{"lista", "list", "data", "dados"}

// WorkbookOptions adjust how a workbook source reads its file.
// Zero values select the conventions above.
type WorkbookOptions struct {
	// DataSheet forces a specific data sheet by name.
	DataSheet string
	// ModelCell and SerialCell address the summary-sheet cells
	// holding the logger model and serial number.
	ModelCell  string
	SerialCell string
	// HeaderRow is the 1-based row holding the column headers
	// (default 1). Data starts on the following row.
	HeaderRow int
}

// workbookSource reads an Excel workbook through excelize, streaming
// the data sheet row by row.
type workbookSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	meta    SourceMeta
	rowNum  int
	closed  bool
}

// OpenWorkbook opens path as a spreadsheet source. It locates the
// summary sheet (if any) for device identity, picks the data sheet,
// and positions the stream on the first data row.
func OpenWorkbook(path string, opts WorkbookOptions) (TableSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	src, err := newWorkbookSource(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

func newWorkbookSource(f *excelize.File, opts WorkbookOptions) (*workbookSource, error) {
	if opts.ModelCell == "" {
		opts.ModelCell = defaultModelCell
	}
	if opts.SerialCell == "" {
		opts.SerialCell = defaultSerialCell
	}
	if opts.HeaderRow <= 0 {
		opts.HeaderRow = 1
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	meta := SourceMeta{}
	if summary := findSheet(sheets, summarySheetNames); summary != "" {
		// Cell reads on a missing sheet just come back empty, so a
		// malformed summary sheet degrades to no metadata.
		model, _ := f.GetCellValue(summary, opts.ModelCell)
		serial, _ := f.GetCellValue(summary, opts.SerialCell)
		meta.Model = strings.TrimSpace(model)
		meta.SerialNumber = strings.TrimSpace(serial)
	}

	dataSheet := opts.DataSheet
	if dataSheet == "" {
		dataSheet = findSheet(sheets, dataSheetNames)
	}
	if dataSheet == "" {
		dataSheet = firstDataSheet(sheets)
	}
	if dataSheet == "" {
		return nil, fmt.Errorf("workbook has no data sheet")
	}

	rows, err := f.Rows(dataSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", dataSheet, err)
	}

	src := &workbookSource{file: f, rows: rows, meta: meta}

	// Advance to the header row, then capture it. Everything after is
	// data.
	for i := 0; i < opts.HeaderRow; i++ {
		if !rows.Next() {
			_ = rows.Close()
			return nil, fmt.Errorf("sheet %q: %w", dataSheet, ErrEmptySheet)
		}
		src.rowNum++
	}
	headers, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	for _, h := range headers {
		src.headers = append(src.headers, strings.TrimSpace(h))
	}

	return src, nil
}

func (s *workbookSource) Headers() []string { return s.headers }

func (s *workbookSource) Meta() SourceMeta { return s.meta }

func (s *workbookSource) Next() (Row, bool, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return Row{}, false, fmt.Errorf("workbook row read failed: %w", err)
		}
		return Row{}, false, nil
	}
	s.rowNum++

	cols, err := s.rows.Columns()
	if err != nil {
		return Row{}, false, fmt.Errorf("workbook row %d read failed: %w", s.rowNum, err)
	}

	cells := make([]any, len(cols))
	for i, c := range cols {
		cells[i] = c
	}
	return Row{Number: s.rowNum, Cells: cells}, true, nil
}

func (s *workbookSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rows != nil {
		_ = s.rows.Close()
	}
	return s.file.Close()
}

// findSheet returns the first sheet whose lowercased name starts with
// one of the wanted prefixes.
func findSheet(sheets []string, wanted []string) string {
	for _, sheet := range sheets {
		name := strings.ToLower(strings.TrimSpace(sheet))
		for _, w := range wanted {
			if strings.HasPrefix(name, w) {
				return sheet
			}
		}
	}
	return ""
}

// firstDataSheet picks the first sheet that is not a summary sheet.
func firstDataSheet(sheets []string) string {
	for _, sheet := range sheets {
		name := strings.ToLower(strings.TrimSpace(sheet))
		isSummary := false
		for _, w := range summarySheetNames {
			if strings.HasPrefix(name, w) {
				isSummary = true
				break
			}
		}
		if !isSummary {
			return sheet
		}
	}
	return ""
}
