package ingest

// Row is one raw record from a table source. Cells keep their source
// representation (string for text files, string or native value for
// workbook cells); Number is the 1-based position in the file,
// counting the header.
type Row struct {
	Number int
	Cells  []any
}

// SourceMeta carries file-level metadata extracted while opening a
// source. Workbooks fill SerialNumber/Model from the summary sheet;
// delimited files only know their encoding and delimiter.
type SourceMeta struct {
	SerialNumber string
	Model        string
	Encoding     string
	Delimiter    string
}

// TableSource is the common contract over workbook and delimited-text
// inputs: a header row plus a lazy, finite, forward-only row stream.
// Restarting means reopening the file; a source is not rewindable
// mid-stream.
type TableSource interface {
	// Headers returns the header row, which may be empty when the
	// file carries none.
	Headers() []string

	// Next returns the next data row. ok is false once the stream is
	// exhausted; err reports a read failure on the current row.
	Next() (row Row, ok bool, err error)

	// Meta returns file-level metadata discovered at open time.
	Meta() SourceMeta

	// Close releases the underlying file handle. Safe to call more
	// than once.
	Close() error
}
