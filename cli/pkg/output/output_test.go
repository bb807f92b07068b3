package output

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*bytes.Buffer)
		prefix string
		text   string
	}{
		{"success", func(b *bytes.Buffer) { Success(b, "Sent %d events", 3) }, "✓ ", "Sent 3 events"},
		{"error", func(b *bytes.Buffer) { Error(b, "Failed to reach %s", "gateway") }, "✗ ", "Failed to reach gateway"},
		{"warn", func(b *bytes.Buffer) { Warn(b, "Queue is %d%% full", 95) }, "⚠ ", "Queue is 95% full"},
		{"info", func(b *bytes.Buffer) { Info(b, "User %s", "u-1") }, "", "User u-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.write(&buf)
			assert.Equal(t, tt.prefix+tt.text+"\n", buf.String())
		})
	}
}

type row struct {
	ID    string `json:"id" yaml:"id"`
	Count int    `json:"count" yaml:"count"`
}

func TestJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, map[string]interface{}{"user": map[string]interface{}{"id": "u-1"}}))

	assert.Contains(t, buf.String(), "  \"user\":")
	assert.Contains(t, buf.String(), "    \"id\":")
}

func TestRender(t *testing.T) {
	rows := []row{{ID: "a", Count: 1}, {ID: "bbbb", Count: 22}}
	table := func() *Table {
		tbl := NewTable("ID", "COUNT")
		for _, r := range rows {
			tbl.AddRow(r.ID, strconv.Itoa(r.Count))
		}
		return tbl
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatJSON, rows, table))

		var parsed []row
		require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
		assert.Equal(t, rows, parsed)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatYAML, rows, table))

		var parsed []row
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
		assert.Equal(t, rows, parsed)
		assert.Contains(t, buf.String(), "- id: a")
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatTable, rows, table))

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "ID    COUNT", strings.TrimRight(lines[0], " "))
		assert.Equal(t, "----  -----", strings.TrimRight(lines[1], " "))
		assert.Equal(t, "a     1", strings.TrimRight(lines[2], " "))
		assert.Equal(t, "bbbb  22", strings.TrimRight(lines[3], " "))
	})

	t.Run("unknown format", func(t *testing.T) {
		var buf bytes.Buffer
		err := Render(&buf, "xml", rows, table)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown output format")
		assert.Empty(t, buf.String())
	})
}

func TestTable_EmptyAndShortRows(t *testing.T) {
	tbl := NewTable("A", "B")
	assert.Equal(t, 0, tbl.Len())
	tbl.AddRow("only")
	assert.Equal(t, 1, tbl.Len())

	var buf bytes.Buffer
	tbl.Render(&buf)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "only", strings.TrimRight(lines[2], " "))
}
