package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ErrNotText reports content no delimited reader can make sense of,
// e.g. a binary blob handed in under a text extension.
var ErrNotText = errors.New("file is not delimited text")

// sniffSize is how much of the file the content checks look at.
const sniffSize = 4096

// DelimitedOptions adjust how a delimited-text source reads its file.
type DelimitedOptions struct {
	// Separator between fields. Zero means sniff it from the first
	// table line, falling back to comma.
	Separator rune
	// Encoding of the file: "utf-8" (default), "latin-1"/"iso-8859-1"
	// or "windows-1252".
	Encoding string
	// HasHeader reports whether the first consumed row is a header.
	// Defaults to true; set NoHeader to disable.
	NoHeader bool
	// StartRow is the 1-based row the table starts on, allowing
	// preamble lines to be skipped. Zero means row 1.
	StartRow int
}

// delimitedSource streams a separated-values file.
type delimitedSource struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	meta    SourceMeta
	rowNum  int
	closed  bool
}

// OpenDelimited opens path as a delimited-text source, decoding the
// configured character set and skipping preamble rows.
func OpenDelimited(path string, opts DelimitedOptions) (TableSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open text file: %w", err)
	}

	src, err := newDelimitedSource(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

func newDelimitedSource(f *os.File, opts DelimitedOptions) (*delimitedSource, error) {
	if opts.StartRow <= 0 {
		opts.StartRow = 1
	}

	enc, name, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	chunk, err := readSniffChunk(f)
	if err != nil {
		return nil, err
	}
	if looksBinary(chunk, enc == nil) {
		return nil, fmt.Errorf("binary content: %w", ErrNotText)
	}
	if opts.Separator == 0 {
		opts.Separator = sniffSeparator(chunk, opts.StartRow)
	}

	var in io.Reader = f
	if enc != nil {
		in = transform.NewReader(f, enc.NewDecoder())
	}

	r := csv.NewReader(in)
	r.Comma = opts.Separator
	// Logger exports are ragged often enough that per-row width
	// checks belong to the validator, not the reader.
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	src := &delimitedSource{
		file:   f,
		reader: r,
		meta: SourceMeta{
			Encoding:  name,
			Delimiter: string(opts.Separator),
		},
	}

	// Skip preamble rows before the table starts.
	for src.rowNum < opts.StartRow-1 {
		if _, err := src.readRecord(); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("file ends before start row %d", opts.StartRow)
			}
			return nil, fmt.Errorf("failed to skip to start row: %w", err)
		}
	}

	if !opts.NoHeader {
		record, err := src.readRecord()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("file has no header row")
			}
			return nil, fmt.Errorf("failed to read header row: %w", err)
		}
		for _, h := range record {
			src.headers = append(src.headers, strings.TrimSpace(h))
		}
	}

	return src, nil
}

func (s *delimitedSource) readRecord() ([]string, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	s.rowNum++
	return record, nil
}

func (s *delimitedSource) Headers() []string { return s.headers }

func (s *delimitedSource) Meta() SourceMeta { return s.meta }

func (s *delimitedSource) Next() (Row, bool, error) {
	record, err := s.readRecord()
	if err != nil {
		if err == io.EOF {
			return Row{}, false, nil
		}
		return Row{}, false, fmt.Errorf("text row read failed: %w", err)
	}

	cells := make([]any, len(record))
	for i, c := range record {
		cells[i] = c
	}
	return Row{Number: s.rowNum, Cells: cells}, true, nil
}

func (s *delimitedSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// readSniffChunk reads the leading bytes used by the content checks
// and rewinds the file.
func readSniffChunk(f *os.File) ([]byte, error) {
	chunk := make([]byte, sniffSize)
	n, err := io.ReadFull(f, chunk)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind file: %w", err)
	}
	return chunk[:n], nil
}

// looksBinary reports whether chunk cannot plausibly be text. A NUL
// byte is decisive. When the input is expected to be UTF-8, a high
// density of invalid bytes also counts; a stray accent from a
// misdeclared legacy charset does not.
func looksBinary(chunk []byte, utf8Expected bool) bool {
	if bytes.IndexByte(chunk, 0x00) >= 0 {
		return true
	}
	if !utf8Expected || len(chunk) == 0 {
		return false
	}
	invalid := 0
	for i := 0; i < len(chunk); {
		r, size := utf8.DecodeRune(chunk[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		i += size
	}
	return invalid*10 > len(chunk)
}

// sniffSeparator guesses the field separator by counting candidates
// on the line the table starts on. That line is the header in almost
// every export, so decimal commas in the data cannot skew the count.
// Comma wins ties.
func sniffSeparator(chunk []byte, startRow int) rune {
	lines := strings.Split(string(chunk), "\n")
	idx := startRow - 1
	if idx < 0 || idx >= len(lines) {
		return ','
	}
	line := lines[idx]

	best, bestCount := ',', strings.Count(line, ",")
	for _, cand := range []rune{';', '\t', '|'} {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// lookupEncoding maps a configured encoding name to a decoder. A nil
// decoder means the input is already UTF-8.
func lookupEncoding(name string) (encoding.Encoding, string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, "utf-8", nil
	case "latin-1", "latin1", "iso-8859-1":
		return charmap.ISO8859_1, "iso-8859-1", nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, "windows-1252", nil
	default:
		return nil, "", fmt.Errorf("unsupported encoding %q", name)
	}
}
