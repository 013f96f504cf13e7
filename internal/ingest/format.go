package ingest

import (
	"path/filepath"
	"strings"
)

// Format classifies an input file for the pipeline.
type Format string

const (
	// FormatSpreadsheet is an Excel workbook export.
	FormatSpreadsheet Format = "spreadsheet"
	// FormatDelimited is a delimited text export (CSV and friends).
	FormatDelimited Format = "delimited"
)

// spreadsheet extensions the workbook reader can open.
var spreadsheetExts = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".xls":  true,
}

// textExts are extensions treated as delimited text outright.
var textExts = map[string]bool{
	".csv": true,
	".txt": true,
	".tsv": true,
	".dat": true,
	".log": true,
}

// DetectFormat classifies a file by its extension. Unrecognized
// extensions fall back to delimited text: the delimited reader sniffs
// its input and rejects binary content as an unsupported format,
// while handing a text file to the workbook reader fails expensively.
// No file I/O happens here.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	if spreadsheetExts[ext] {
		return FormatSpreadsheet
	}
	if textExts[ext] {
		return FormatDelimited
	}
	return FormatDelimited
}
