// Package dataset describes a tabular data file for generation prompts.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

// DefaultSampleRows is how many rows are read to infer column types.
const DefaultSampleRows = 200

// ColumnType is the inferred type of a column
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeString  ColumnType = "string"
	TypeEmpty   ColumnType = "empty"
)

// Column summarises one column over the sampled rows.
type Column struct {
	Name     string
	Type     ColumnType
	Missing  int
	Examples []string
	Role     string
}

// Schema is the description of a data file
type Schema struct {
	Path      string
	Size      int64
	Delimiter rune
	Sampled   int
	Truncated bool
	Columns   []Column
	Hints     config.SchemaHints
}

// Describe reads the header and up to sampleRows rows of the file at path.
// Files ending in .tsv or .tab are tab separated; everything else is CSV.
func Describe(path string, hints config.SchemaHints, sampleRows int) (*Schema, error) {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	s := &Schema{Path: path, Size: info.Size(), Delimiter: delimiterFor(path), Hints: hints}
	r := csv.NewReader(f)
	r.Comma = s.Delimiter
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make([]Column, len(header))
	seen := make([]map[ColumnType]bool, len(header))
	for i, name := range header {
		cols[i] = Column{Name: strings.TrimSpace(name)}
		seen[i] = make(map[ColumnType]bool)
	}

	for s.Sampled < sampleRows {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", s.Sampled+2, err)
		}
		s.Sampled++
		for i := range cols {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			if isMissing(v) {
				cols[i].Missing++
				continue
			}
			seen[i][valueType(v)] = true
			if len(cols[i].Examples) < 3 && !contains(cols[i].Examples, v) {
				cols[i].Examples = append(cols[i].Examples, v)
			}
		}
	}
	if s.Sampled == sampleRows {
		if _, err := r.Read(); err == nil {
			s.Truncated = true
		}
	}

	roles := hints.Roles()
	for i := range cols {
		cols[i].Type = widen(seen[i])
		cols[i].Role = roles[cols[i].Name]
	}
	s.Columns = cols
	return s, nil
}

// String renders the schema as prompt text.
func (s *Schema) String() string {
	var b strings.Builder
	rows := humanize.Comma(int64(s.Sampled))
	if s.Truncated {
		rows = "first " + rows
	}
	fmt.Fprintf(&b, "Dataset %s (%s, %s rows sampled)\n", filepath.Base(s.Path), humanize.Bytes(uint64(s.Size)), rows)
	b.WriteString("Columns:\n")
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Type)
		if c.Role != "" {
			fmt.Fprintf(&b, " [%s]", c.Role)
		}
		if c.Missing > 0 {
			fmt.Fprintf(&b, ", %d missing", c.Missing)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintf(&b, ", e.g. %s", strings.Join(c.Examples, ", "))
		}
		b.WriteString("\n")
	}
	if notes := s.Hints.Notes(); notes != "" {
		b.WriteString(notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Column returns the named column, or nil.
func (s *Schema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// MissingHints lists hinted columns that are absent from the file.
func (s *Schema) MissingHints() []string {
	var missing []string
	for _, name := range s.Hints.Columns() {
		if s.Column(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func delimiterFor(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return '\t'
	default:
		return ','
	}
}

func isMissing(v string) bool {
	switch strings.ToLower(v) {
	case "", "na", "nan", "null", ".", "n/a":
		return true
	}
	return false
}

func valueType(v string) ColumnType {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return TypeFloat
	}
	return TypeString
}

func widen(seen map[ColumnType]bool) ColumnType {
	switch {
	case seen[TypeString]:
		return TypeString
	case seen[TypeFloat]:
		return TypeFloat
	case seen[TypeInteger]:
		return TypeInteger
	default:
		return TypeEmpty
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
