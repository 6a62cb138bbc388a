package font

import "fmt"

// ErrorSeverity represents the severity level of a table decoding error.
type ErrorSeverity int

const (
	// SeverityCritical indicates a severe error that makes the table unusable or unreliable.
	SeverityCritical ErrorSeverity = iota
	// SeverityMajor indicates a significant error that may affect functionality but doesn't prevent usage.
	SeverityMajor
	// SeverityMinor indicates a minor issue that can be safely ignored in most cases.
	SeverityMinor
)

// String returns a human-readable representation of the error severity.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityMajor:
		return "MAJOR"
	case SeverityMinor:
		return "MINOR"
	default:
		return "UNKNOWN"
	}
}

// Stable machine-readable codes for decoding problems. Tools match on
// these, so they never change once released; the free-form Issue text may.
const (
	CodeInsufficientBytes = "insufficient bytes"
	CodeOffsetOutOfBounds = "offset out of bounds"
	CodeBadGuardValue     = "bad guard value"
	CodeBadFormat         = "unknown format"
	CodeBadEnumValue      = "value out of enumerated range"
	CodeMisaligned        = "misaligned value"
	CodeEmptyTable        = "table is empty"
	CodeDanglingEntry     = "entry not reachable"
)

// TableError represents an error encountered while decoding a table binary.
// Errors are accumulated during a validating decode and can be inspected
// after decoding completes.
type TableError struct {
	Section  string        // section within the subtable (e.g. "entry table", "ligature actions")
	Code     string        // stable machine-readable code, one of the Code* constants
	Issue    string        // human-readable description of the issue
	Severity ErrorSeverity // severity level of the error
	Offset   uint32        // byte offset within the decoded data (0 if unknown)
}

// Error implements the error interface.
func (e TableError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("[%s] %s at offset %d: %s", e.Severity, e.Section, e.Offset, e.Issue)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Section, e.Issue)
}

// TableWarning represents a non-critical oddity found while decoding.
// Warnings indicate potential problems but do not prevent usage.
type TableWarning struct {
	Section string // section within the subtable
	Issue   string // human-readable description
	Offset  uint32 // byte offset within the decoded data (0 if unknown)
}

// String returns a human-readable representation of the warning.
func (w TableWarning) String() string {
	if w.Offset > 0 {
		return fmt.Sprintf("[WARNING] %s at offset %d: %s", w.Section, w.Offset, w.Issue)
	}
	return fmt.Sprintf("[WARNING] %s: %s", w.Section, w.Issue)
}

// Report accumulates errors and warnings during a validating decode.
// A validating constructor takes a *Report and records every issue it
// finds instead of bailing out at the first one.
type Report struct {
	Errors   []TableError
	Warnings []TableWarning
}

// AddError records a decoding error.
func (r *Report) AddError(section, code, issue string, severity ErrorSeverity, offset uint32) {
	tracer().Errorf("[%s] %s: %s", section, code, issue)
	r.Errors = append(r.Errors, TableError{
		Section:  section,
		Code:     code,
		Issue:    issue,
		Severity: severity,
		Offset:   offset,
	})
}

// AddWarning records a decoding warning.
func (r *Report) AddWarning(section, issue string, offset uint32) {
	tracer().Infof("[%s] %s", section, issue)
	r.Warnings = append(r.Warnings, TableWarning{
		Section: section,
		Issue:   issue,
		Offset:  offset,
	})
}

// HasErrors returns true if any errors have been recorded.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasCriticalErrors returns true if any critical errors have been recorded.
func (r *Report) HasCriticalErrors() bool {
	for _, err := range r.Errors {
		if err.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// CriticalErrors returns all errors with critical severity.
func (r *Report) CriticalErrors() []TableError {
	critical := make([]TableError, 0)
	for _, err := range r.Errors {
		if err.Severity == SeverityCritical {
			critical = append(critical, err)
		}
	}
	return critical
}
