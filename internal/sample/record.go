package sample

import (
	"fmt"
	"sort"
	"strings"
)

// Record is one row of raw textual values produced by the sampling tool for
// a single sample tick.
type Record []string

// FieldMap maps a field name (pmc0, virt1, nsample, ...) to its position in a Record.
type FieldMap map[string]int

// NewFieldMap assigns positions in argument order.
func NewFieldMap(names ...string) FieldMap {
	fields := make(FieldMap, len(names))
	for i, name := range names {
		fields[name] = i
	}
	return fields
}

func (f FieldMap) Index(name string) (int, bool) {
	idx, ok := f[name]
	return idx, ok
}

// Names returns the field names ordered by position.
func (f FieldMap) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return f[names[i]] < f[names[j]]
	})
	return names
}

// Value returns the raw text of a named field.
func (r Record) Value(fields FieldMap, name string) (string, bool) {
	idx, ok := fields[name]
	if !ok || idx < 0 || idx >= len(r) {
		return "", false
	}
	return r[idx], true
}

func (r Record) String() string {
	return strings.Join(r, " ")
}

// ParseHeader builds the field mapping from a header line of the sampling tool.
func ParseHeader(line string) (FieldMap, error) {
	names := strings.Fields(line)
	if len(names) == 0 {
		return nil, fmt.Errorf("empty header line")
	}

	fields := make(FieldMap, len(names))
	for i, name := range names {
		if _, dup := fields[name]; dup {
			return nil, fmt.Errorf("duplicate field %q in header", name)
		}
		fields[name] = i
	}
	return fields, nil
}
