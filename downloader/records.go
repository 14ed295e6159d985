package downloader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrMissingColumn is returned when the input header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Header of the mapping table, as expected by the import job that consumes it.
const (
	MappingIDColumn   = "Id"
	MappingFileColumn = "Image_URL__c"
)

// Schema names the input columns a Record is read from.
type Schema struct {
	ID   string
	Name string
	SKU  string
	URL  string
}

// DefaultSchema matches a product export with Id, Name, StockKeepingUnit and
// Image_URL__c columns.
func DefaultSchema() Schema {
	return Schema{
		ID:   "Id",
		Name: "Name",
		SKU:  "StockKeepingUnit",
		URL:  "Image_URL__c",
	}
}

// Record is one row of the input table.
type Record struct {
	// Seq is the zero-based position among data rows.
	Seq  int
	ID   string
	Name string
	SKU  string
	URL  string
}

// RecordReader iterates the rows of a delimited input table.
type RecordReader struct {
	f      *os.File
	r      *csv.Reader
	schema Schema
	cols   map[string]int
	seq    int
	empty  bool
}

// OpenRecords opens path for reading records. A leading UTF-8 byte order
// mark is skipped. The header must contain the name, SKU and URL columns, and
// the ID column when needID is set.
func OpenRecords(path string, schema Schema, needID bool) (*RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}

	r := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	r.FieldsPerRecord = -1
	rr := &RecordReader{f: f, r: r, schema: schema, cols: make(map[string]int)}

	header, err := r.Read()
	if err == io.EOF {
		rr.empty = true
		return rr, nil
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	for i, name := range header {
		if _, ok := rr.cols[name]; !ok {
			rr.cols[name] = i
		}
	}

	required := []string{schema.Name, schema.SKU, schema.URL}
	if needID {
		required = append(required, schema.ID)
	}
	var missing []string
	for _, col := range required {
		if _, ok := rr.cols[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		f.Close()
		return nil, fmt.Errorf("%w in %s: %s", ErrMissingColumn, path, strings.Join(missing, ", "))
	}
	return rr, nil
}

// Next returns the next record, or io.EOF after the last one.
func (rr *RecordReader) Next() (*Record, error) {
	if rr.empty {
		return nil, io.EOF
	}
	row, err := rr.r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read record %d: %w", rr.seq+1, err)
	}
	rec := &Record{
		Seq:  rr.seq,
		ID:   rr.field(row, rr.schema.ID),
		Name: rr.field(row, rr.schema.Name),
		SKU:  rr.field(row, rr.schema.SKU),
		URL:  rr.field(row, rr.schema.URL),
	}
	rr.seq++
	return rec, nil
}

// field returns the named column of row; short rows yield "".
func (rr *RecordReader) field(row []string, col string) string {
	i, ok := rr.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (rr *RecordReader) Close() error {
	return rr.f.Close()
}

// MappingPath returns the companion table path for input, e.g.
// "data/importable_products.csv" for "data/products.csv".
func MappingPath(input string) string {
	dir, base := filepath.Split(input)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "importable_"+strings.TrimSuffix(base, ext)+ext)
}

// MappingWriter writes the Id -> file name table. Rows are flushed as they
// are written so the table on disk always reflects every submitted record.
type MappingWriter struct {
	f  *os.File
	tw io.WriteCloser
	w  *csv.Writer
}

// CreateMapping creates path, writing a UTF-8 byte order mark and the header.
func CreateMapping(path string) (*MappingWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping %s: %w", path, err)
	}
	tw := transform.NewWriter(f, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(tw)
	w.UseCRLF = true
	m := &MappingWriter{f: f, tw: tw, w: w}
	if err := m.Write(MappingIDColumn, MappingFileColumn); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// Write appends one row.
func (m *MappingWriter) Write(id, file string) error {
	if err := m.w.Write([]string{id, file}); err != nil {
		return fmt.Errorf("failed to write mapping row: %w", err)
	}
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		return fmt.Errorf("failed to write mapping row: %w", err)
	}
	return nil
}

func (m *MappingWriter) Close() error {
	m.w.Flush()
	err := m.w.Error()
	if cerr := m.tw.Close(); err == nil {
		err = cerr
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
