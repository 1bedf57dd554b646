package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpValid(t *testing.T) {
	assert.True(t, OpInsert.Valid())
	assert.True(t, OpUpdate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Op("truncate").Valid())
}

func TestDecodeColumnsPreservesNull(t *testing.T) {
	cols, err := DecodeColumns(`{"name":{"t":"text","v":null},"balance":{"t":"numeric(10,2)","v":"12.50"}}`)
	require.NoError(t, err)

	require.Contains(t, cols, "name")
	assert.Nil(t, cols["name"].Value)
	assert.Equal(t, "text", cols["name"].Type)

	require.Contains(t, cols, "balance")
	require.NotNil(t, cols["balance"].Value)
	assert.Equal(t, "12.50", *cols["balance"].Value)
}

func TestColumnNamesSorted(t *testing.T) {
	v := "1"
	c := Change{
		Columns: map[string]ColumnValue{
			"zeta":  {Type: "text", Value: &v},
			"alpha": {Type: "text", Value: &v},
			"mid":   {Type: "text", Value: &v},
		},
		Key: map[string]any{"id": float64(1), "b": "x"},
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, c.ColumnNames())
	assert.Equal(t, []string{"b", "id"}, c.KeyColumns())
}

func TestDecodeKeyRejectsMalformed(t *testing.T) {
	_, err := DecodeKey(`{not json`)
	require.Error(t, err)
}
