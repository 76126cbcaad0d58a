// Package metric compiles user formulas over hardware counter fields (pmc<N>)
// and virtual counter fields (virt<N>) into expressions that are evaluated once
// per sample record.
package metric

import (
	"fmt"

	"pmc-monitor/internal/sample"
)

// Metric is a compiled formula. It holds no mutable state after Compile, so a
// single Metric may be evaluated concurrently as long as the field mapping it
// reads is not modified at the same time.
type Metric struct {
	name    string
	formula string
	root    node
	fields  []string
}

// Compile parses formula once. Malformed formulas fail here with a *SyntaxError
// instead of at evaluation time.
func Compile(name, formula string) (*Metric, error) {
	root, fields, err := parse(formula)
	if err != nil {
		return nil, err
	}
	return &Metric{
		name:    name,
		formula: formula,
		root:    root,
		fields:  fields,
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for formulas
// known at build time.
func MustCompile(name, formula string) *Metric {
	m, err := Compile(name, formula)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metric) Name() string {
	return m.name
}

func (m *Metric) Formula() string {
	return m.formula
}

// Fields returns the distinct field names the formula references, in order of
// first appearance.
func (m *Metric) Fields() []string {
	out := make([]string, len(m.fields))
	copy(out, m.fields)
	return out
}

// Evaluate computes the metric for one record using that record's field
// mapping. Errors are *NameResolutionError, *IndexError, *FormatError or
// *ArithmeticError and are returned unchanged.
func (m *Metric) Evaluate(rec sample.Record, fields sample.FieldMap) (float64, error) {
	return m.root.eval(rec, fields)
}

// Missing returns the referenced fields absent from fields. Useful to reject a
// configuration before the first sample arrives.
func (m *Metric) Missing(fields sample.FieldMap) []string {
	var missing []string
	for _, name := range m.fields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (m *Metric) String() string {
	return fmt.Sprintf("%s = %s", m.name, m.formula)
}

// Definition is a named formula prior to compilation.
type Definition struct {
	Name    string
	Formula string
}

// CompileAll compiles definitions in order and stops at the first failure.
func CompileAll(defs []Definition) ([]*Metric, error) {
	metrics := make([]*Metric, 0, len(defs))
	for _, def := range defs {
		m, err := Compile(def.Name, def.Formula)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", def.Name, err)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
