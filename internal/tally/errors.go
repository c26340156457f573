package tally

// errors.go defines the error taxonomy of the ingest pipeline.
//
//   - ValidationError: the uploaded file is malformed. Raised before anything is
//     persisted and shown to the uploading user.
//   - ReferenceError: a row points at a species or enclosure that has not been
//     resolved. Indicates a pipeline ordering bug, not bad input.
//   - ApplyError: a confirmed changeset failed to apply. The transaction is
//     rolled back and the changeset stays staged.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned by Repository getters when no row matches.
var ErrNotFound = errors.New("not found")

// ValidationCode identifies the kind of validation failure.
type ValidationCode string

const (
	CodeNoData             ValidationCode = "no_data"
	CodeMissingColumns     ValidationCode = "missing_columns"
	CodeAccessionLength    ValidationCode = "bad_accession_length"
	CodeRequiredField      ValidationCode = "required_field"
	CodeDuplicateAccession ValidationCode = "duplicate_accession"
	CodeInvalidNumber      ValidationCode = "invalid_number"
	CodeEmptyPopulation    ValidationCode = "empty_population"
	CodeUnsupportedFormat  ValidationCode = "unsupported_format"
	CodeFileTooLarge       ValidationCode = "file_too_large"
	CodeUnreadable         ValidationCode = "unreadable_file"
)

// Sentinels for errors.Is; they match any ValidationError with the same code.
var (
	ErrNoData             = &ValidationError{Code: CodeNoData}
	ErrMissingColumns     = &ValidationError{Code: CodeMissingColumns}
	ErrAccessionLength    = &ValidationError{Code: CodeAccessionLength}
	ErrRequiredField      = &ValidationError{Code: CodeRequiredField}
	ErrDuplicateAccession = &ValidationError{Code: CodeDuplicateAccession}
	ErrInvalidNumber      = &ValidationError{Code: CodeInvalidNumber}
	ErrEmptyPopulation    = &ValidationError{Code: CodeEmptyPopulation}
	ErrUnsupportedFormat  = &ValidationError{Code: CodeUnsupportedFormat}
	ErrFileTooLarge       = &ValidationError{Code: CodeFileTooLarge}
)

// ValidationError reports a malformed upload.
type ValidationError struct {
	Code    ValidationCode
	Field   string   // Column name, when the failure is column specific
	Lines   []int    // Spreadsheet line numbers (header is line 1)
	Values  []string // Offending values or column names
	Message string   // Human-readable summary
	Err     error    // Underlying cause, if any
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Field != "" {
		b.WriteString(" (column ")
		b.WriteString(strconv.Quote(e.Field))
		b.WriteString(")")
	}
	if len(e.Values) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Values, ", "))
	}
	if len(e.Lines) > 0 {
		b.WriteString(" on line")
		if len(e.Lines) > 1 {
			b.WriteString("s")
		}
		b.WriteString(" ")
		b.WriteString(joinInts(e.Lines, maxReportedLines))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches any ValidationError carrying the same code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

// maxReportedLines caps how many line numbers an error message lists.
const maxReportedLines = 20

func joinInts(ns []int, limit int) string {
	parts := make([]string, 0, min(len(ns), limit)+1)
	for i, n := range ns {
		if i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(ns)-limit))
			break
		}
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ", ")
}

// ReferenceError reports a lookup of a species or enclosure that does not exist.
type ReferenceError struct {
	Entity string // "species", "enclosure", "animal" or "group"
	Key    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference: %s %q not found", e.Entity, e.Key)
}

func (e *ReferenceError) Unwrap() error { return ErrNotFound }

// ApplyStage names the step of Apply that failed.
type ApplyStage string

const (
	StageEnclosures ApplyStage = "enclosures"
	StageSpecies    ApplyStage = "species"
	StageAnimals    ApplyStage = "animals"
	StageGroups     ApplyStage = "groups"
	StageDeletes    ApplyStage = "deletes"
	StageInvariant  ApplyStage = "invariant"
	StageAudit      ApplyStage = "audit"
)

// ApplyError reports a failure while applying a changeset.
type ApplyError struct {
	Stage     ApplyStage
	Accession string // Empty when the failure is not tied to one entity
	Err       error
}

func (e *ApplyError) Error() string {
	if e.Accession != "" {
		return fmt.Sprintf("apply %s (accession %s): %v", e.Stage, e.Accession, e.Err)
	}
	return fmt.Sprintf("apply %s: %v", e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ErrStagedNotFound is returned when a staged changeset expired or never existed.
var ErrStagedNotFound = errors.New("staged changeset not found")

// ErrNoExportData is returned when an export range contains no count records.
var ErrNoExportData = errors.New("no count records in range")

// ErrKindMismatch reports an upsert row whose population does not match the
// kind it is applied as.
var ErrKindMismatch = errors.New("population does not match entity kind")

// ErrCrossKindAccession reports accession numbers active as both kinds.
var ErrCrossKindAccession = errors.New("accession active as both animal and group")
