package sample

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pmctrackOutput = `[Event-to-counter mappings]
pmc0=instr_retired_fixed
pmc1=unhalted_core_cycles_fixed
[Event counts]
nsample    pid      event          pmc0          pmc1         virt0
      1  10431       tick    1285742001     981543201          4.5

# comment
      2  10431       tick    1312002101     990012333          N/A
nsample    pid      event    expid          pmc0
      3  10431       tick        1          77
`

func TestReader_ParsesHeaderAndRecords(t *testing.T) {
	r := NewReader(strings.NewReader(pmctrackOutput))

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{"1", "10431", "tick", "1285742001", "981543201", "4.5"}, rec)
	assert.Equal(t, 3, r.Fields()["pmc0"])
	assert.Equal(t, 5, r.Fields()["virt0"])
	assert.Equal(t, 6, r.Line())

	rec, err = r.Next()
	require.NoError(t, err)
	v, ok := rec.Value(r.Fields(), "virt0")
	assert.True(t, ok)
	assert.Equal(t, "N/A", v)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Fields()["expid"])
	assert.Equal(t, 4, r.Fields()["pmc0"])
	_, hasVirt := r.Fields()["virt0"]
	assert.False(t, hasVirt, "a new header replaces the previous layout")
	assert.Equal(t, "77", rec[4])

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_NoHeader(t *testing.T) {
	r := NewReader(strings.NewReader("some banner\n1 2 3\n"))
	_, err := r.Next()
	assert.True(t, errors.Is(err, ErrNoHeader))
}

func TestParseHeader(t *testing.T) {
	fields, err := ParseHeader("nsample pid event pmc0 pmc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"nsample", "pid", "event", "pmc0", "pmc1"}, fields.Names())

	_, err = ParseHeader("   ")
	assert.Error(t, err)

	_, err = ParseHeader("nsample pmc0 pmc0")
	assert.Error(t, err)
}

func TestFieldMapHelpers(t *testing.T) {
	fields := NewFieldMap("pmc0", "pmc1")
	idx, ok := fields.Index("pmc1")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = Record{"1"}.Value(fields, "pmc1")
	assert.False(t, ok, "out of range position is not a value")
	assert.Equal(t, "1 2", Record{"1", "2"}.String())
}
