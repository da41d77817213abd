package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

type probeRow struct {
	Target string `json:"target" yaml:"target"`
	Status string `json:"status" yaml:"status"`
}

func TestWriteTable(t *testing.T) {
	tbl := NewTable("Target", "Status")
	tbl.Append("tcp 10.0.0.5.8.1", "RPC_SUCCESS")
	tbl.Append("tcp 10.0.0.6.8.1", "RPC_TIMEDOUT")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, tbl))
	out := buf.String()
	assert.Contains(t, out, "TARGET")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "RPC_TIMEDOUT")
	assert.NotContains(t, out, "+", "tables are borderless")
}

func TestWriteFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, probeRow{Target: "a", Status: "ok"}))
	assert.Contains(t, buf.String(), `"target": "a"`)
}

func TestWriteJSONAndYAML(t *testing.T) {
	rows := []probeRow{{Target: "a", Status: "ok"}, {Target: "b", Status: "down"}}

	var js bytes.Buffer
	require.NoError(t, Write(&js, FormatJSON, rows))
	assert.Contains(t, js.String(), `"status": "down"`)

	var ym bytes.Buffer
	require.NoError(t, Write(&ym, FormatYAML, rows))
	assert.Contains(t, ym.String(), "- target: a")
	assert.Contains(t, ym.String(), "  status: down")

	assert.Error(t, Write(&js, Format("xml"), rows))
}

func TestWriteFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFields(&buf, [][2]string{{"State", "FINISHED"}, {"XID", "0x1"}}))
	assert.Contains(t, buf.String(), "State")
	assert.Contains(t, buf.String(), "FINISHED")
	assert.Contains(t, buf.String(), "0x1")
}
