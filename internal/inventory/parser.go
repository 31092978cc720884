package inventory

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldCount is the number of comma-separated fields in a record line
const FieldCount = 4

// maxLineSize bounds a single input line
const maxLineSize = 1024 * 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the column names users see in the input file
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("field"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// recordFields is the validation view of a parsed line
type recordFields struct {
	Address       string `field:"address" validate:"required"`
	User          string `field:"user" validate:"required"`
	OldCredential string `field:"old-password" validate:"required"`
	NewCredential string `field:"new-password" validate:"required"`
}

// Parser splits input text into records and malformed lines
type Parser struct {
	// AllowComments skips blank lines and lines whose first non-blank character is '#'
	AllowComments bool
}

// NewParser creates a parser with default settings
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads r line by line.
// Every line yields exactly one Record or one MalformedLine; a blank line is
// malformed. With AllowComments, comment and blank lines are skipped instead. The returned error is non-nil only when r
// itself fails.
func (p *Parser) Parse(r io.Reader) ([]Record, []MalformedLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var records []Record
	var malformed []MalformedLine

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Text()
		if lineNum == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		raw = strings.TrimSuffix(raw, "\r")

		if p.AllowComments && skippable(raw) {
			continue
		}

		rec, err := p.ParseLine(lineNum, raw)
		if err != nil {
			malformed = append(malformed, MalformedLine{
				Line:   lineNum,
				Raw:    raw,
				Reason: err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return records, malformed, fmt.Errorf("failed to read input at line %d: %w", lineNum+1, err)
	}

	return records, malformed, nil
}

// ParseLine parses a single input line.
// Fields are split as CSV, so a quoted field may contain commas, and
// surrounding whitespace is trimmed from every field.
func (p *Parser) ParseLine(lineNum int, raw string) (Record, error) {
	if strings.TrimSpace(raw) == "" {
		return Record{}, fmt.Errorf("expected %d fields, got 0", FieldCount)
	}

	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	fields, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("expected %d fields, got 0", FieldCount)
		}
		return Record{}, fmt.Errorf("invalid CSV: %w", err)
	}

	if len(fields) != FieldCount {
		return Record{}, fmt.Errorf("expected %d fields, got %d", FieldCount, len(fields))
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	view := recordFields{
		Address:       fields[0],
		User:          fields[1],
		OldCredential: fields[2],
		NewCredential: fields[3],
	}
	if err := validate.Struct(view); err != nil {
		return Record{}, describeValidation(err)
	}

	return Record{
		Line:          lineNum,
		Address:       view.Address,
		User:          view.User,
		OldCredential: view.OldCredential,
		NewCredential: view.NewCredential,
	}, nil
}

// skippable reports whether a comment-tolerant parser ignores raw
func skippable(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// Parse reads records from r with a default parser
func Parse(r io.Reader) ([]Record, []MalformedLine, error) {
	return NewParser().Parse(r)
}

// describeValidation turns validator output into a short reason
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("missing %s", strings.Join(missing, ", "))
}
