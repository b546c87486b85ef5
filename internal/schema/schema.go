// package schema performs the pre-flight validation of input tables against a
// declarative schema description. The description file itself is checked
// against an embedded JSON Schema before use, so a malformed description is a
// configuration error, not a runtime surprise deep inside a stage.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/guestlab/nbo/internal/table"
)

//go:embed description.schema.json
var metaSchema string

//go:embed tables.json
var defaultDescription []byte

// Column types accepted in the description file.
const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeInteger   = "integer"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

// Column declares one required or optional column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	// Aliases lists alternative header names accepted for this column
	// (e.g. touch extracts that say offer_id instead of promotion_id).
	Aliases []string `json:"aliases,omitempty"`
}

// Table declares the expected columns of one input table.
type Table struct {
	Columns  []Column `json:"columns"`
	Optional bool     `json:"optional"`
}

// Description is the parsed schema description: table name to declaration.
type Description struct {
	Tables map[string]Table `json:"tables"`
}

// Violation is one pre-flight finding, attributable to a table and column.
type Violation struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	if v.Column != "" {
		return fmt.Sprintf("%s.%s: %s (%s)", v.Table, v.Column, v.Kind, v.Detail)
	}
	return fmt.Sprintf("%s: %s (%s)", v.Table, v.Kind, v.Detail)
}

// PreflightError blocks all stage execution; it carries every violation found
// so the caller can report them per table.
type PreflightError struct {
	Violations []Violation
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("pre-flight validation failed with %d violation(s): %v", len(e.Violations), e.Violations)
}

// Load reads a description file, validates it against the embedded JSON
// Schema, and parses it.
func Load(path string) (*Description, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema description: %w", err)
	}
	return Parse(b)
}

// Default returns the built-in description covering the four standard tables.
func Default() *Description {
	d, err := Parse(defaultDescription)
	if err != nil {
		panic(fmt.Sprintf("embedded table description invalid: %v", err))
	}
	return d
}

// Parse validates description bytes against the meta schema and decodes them.
func Parse(b []byte) (*Description, error) {
	sch, err := jsonschema.CompileString("description.schema.json", metaSchema)
	if err != nil {
		return nil, fmt.Errorf("compile meta schema: %w", err)
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse schema description: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema description invalid: %w", err)
	}
	var d Description
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode schema description: %w", err)
	}
	return &d, nil
}

// sampleRows bounds per-column type probing; header checks always cover the
// whole table.
const sampleRows = 200

// ValidateTable checks a loaded table's header and a sample of its values
// against the declared columns.
func (d *Description) ValidateTable(name string, header []string, rows []table.Row) []Violation {
	decl, ok := d.Tables[name]
	if !ok {
		return nil
	}
	var out []Violation
	present := map[string]bool{}
	for _, h := range header {
		present[h] = true
	}
	for _, col := range decl.Columns {
		actual := resolveColumn(col, present)
		if actual == "" {
			if col.Required {
				out = append(out, Violation{Table: name, Column: col.Name, Kind: "missing_column", Detail: "required column absent"})
			}
			continue
		}
		limit := len(rows)
		if limit > sampleRows {
			limit = sampleRows
		}
		for i := 0; i < limit; i++ {
			v := rows[i][actual]
			if v == "" {
				continue
			}
			if err := checkType(col.Type, v); err != nil {
				out = append(out, Violation{
					Table:  name,
					Column: col.Name,
					Kind:   "type_mismatch",
					Detail: fmt.Sprintf("row %d: %v", i+1, err),
				})
				break
			}
		}
	}
	return out
}

// Preflight validates every named table found in the search dirs. A missing
// optional table is skipped; a missing required table is a violation.
func (d *Description) Preflight(tables []string, dirs ...string) error {
	var all []Violation
	for _, name := range tables {
		decl, ok := d.Tables[name+".csv"]
		fileName := name
		if !ok {
			decl, ok = d.Tables[name]
		} else {
			fileName = name + ".csv"
		}
		if !ok {
			continue
		}
		path, err := table.Resolve(name+".csv", dirs...)
		if err != nil {
			if decl.Optional {
				continue
			}
			all = append(all, Violation{Table: fileName, Kind: "missing_table", Detail: "input file not found"})
			continue
		}
		header, rows, err := table.Read(path)
		if err != nil {
			all = append(all, Violation{Table: fileName, Kind: "unreadable", Detail: err.Error()})
			continue
		}
		all = append(all, d.ValidateTable(fileName, header, rows)...)
	}
	if len(all) > 0 {
		return &PreflightError{Violations: all}
	}
	return nil
}

func resolveColumn(col Column, present map[string]bool) string {
	if present[col.Name] {
		return col.Name
	}
	for _, a := range col.Aliases {
		if present[a] {
			return a
		}
	}
	return ""
}

func checkType(typ, value string) error {
	switch typ {
	case TypeString:
		return nil
	case TypeNumber:
		_, err := table.ParseFloat(value)
		return err
	case TypeInteger:
		f, err := table.ParseFloat(value)
		if err != nil {
			return err
		}
		if f != float64(int64(f)) {
			return fmt.Errorf("not an integer: %s", value)
		}
		return nil
	case TypeBoolean:
		_, err := table.ParseBool(value)
		return err
	case TypeTimestamp:
		_, err := table.ParseTime(value)
		return err
	}
	return fmt.Errorf("unknown declared type %q", typ)
}
