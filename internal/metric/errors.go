package metric

import "fmt"

// SyntaxError reports a formula that cannot be compiled.
type SyntaxError struct {
	Formula string
	Pos     int // byte offset into Formula
	Msg     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %q at offset %d: %s", e.Formula, e.Pos, e.Msg)
}

// NameResolutionError reports a referenced field missing from the field mapping,
// typically a counter used by a formula but not enabled in the experiment.
type NameResolutionError struct {
	Field string
}

func (e *NameResolutionError) Error() string {
	return fmt.Sprintf("field %q is not present in the sample layout", e.Field)
}

// IndexError reports a resolved position beyond the end of the record.
type IndexError struct {
	Field  string
	Index  int
	Length int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("field %q at position %d is out of range for a record of %d values", e.Field, e.Index, e.Length)
}

// FormatError reports a raw value that is not a number.
type FormatError struct {
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("field %q has non-numeric value %q", e.Field, e.Value)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ArithmeticError reports a runtime arithmetic fault such as division by zero.
type ArithmeticError struct {
	Op  string
	Msg string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %q: %s", e.Op, e.Msg)
}
