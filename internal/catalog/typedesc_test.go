package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		declared string
		want     TypeDescriptor
	}{
		{"INTEGER", TypeDescriptor{Base: "integer"}},
		{"text", TypeDescriptor{Base: "text"}},
		{"", TypeDescriptor{}},
		{"NUMERIC(10,2)", TypeDescriptor{Base: "numeric", Precision: 10, Scale: 2, HasScale: true}},
		{"numeric(10, 0)", TypeDescriptor{Base: "numeric", Precision: 10, Scale: 0, HasScale: true}},
		{"NUMERIC(10)", TypeDescriptor{Base: "numeric", Precision: 10}},
		{"VARCHAR(100)", TypeDescriptor{Base: "varchar", Length: 100}},
		{"character  varying(50)", TypeDescriptor{Base: "character varying", Length: 50}},
		{"  DOUBLE PRECISION ", TypeDescriptor{Base: "double precision"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseType(tt.declared), "declared %q", tt.declared)
	}
}

func TestTypeDescriptorString(t *testing.T) {
	tests := []struct {
		declared string
		want     string
	}{
		{"INTEGER", "integer"},
		{"NUMERIC(10,2)", "numeric(10,2)"},
		{"NUMERIC(10,0)", "numeric(10,0)"},
		{"NUMERIC(10)", "numeric(10)"},
		{"VARCHAR(100)", "varchar(100)"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseType(tt.declared).String(), "declared %q", tt.declared)
	}
}

func TestTypeDescriptorRoundTrip(t *testing.T) {
	// The canonical form must re-parse to the same descriptor, since replay
	// records it and later feeds it back through a cast.
	for _, declared := range []string{"NUMERIC(10,2)", "varchar(100)", "integer", "numeric(5)"} {
		desc := ParseType(declared)
		assert.Equal(t, desc, ParseType(desc.String()))
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"accounts"`, QuoteIdent("accounts"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestIsBookkeeping(t *testing.T) {
	assert.True(t, IsBookkeeping("dbr_change_log"))
	assert.False(t, IsBookkeeping("accounts"))
}
