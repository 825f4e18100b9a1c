package modem

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusPage = `<html><body>
<h2>Startup Procedure</h2>
<table><tr><th>Procedure</th><th>Status</th></tr><tr><td>Boot</td><td>OK</td></tr></table>
<table class="simpleTable">
<tr><th colspan="4"><strong>Downstream Bonded Channels</strong></th></tr>
<tr><td><strong>Channel ID</strong></td><td><strong>Lock Status</strong></td><td><strong>Power</strong></td><td><strong>SNR</strong></td></tr>
<tr><td>1</td><td>Locked</td><td>2.0 dBmV</td><td>38.5 dB</td></tr>
<tr><td>2</td><td>Not Locked</td><td>0.0 dBmV</td><td>0.0 dB</td></tr>
</table>
<h3>Upstream</h3>
<table>
<tr><td>1</td><td>Locked</td><td>44.0 dBmV</td></tr>
</table>
</body></html>`

func TestParseTables(t *testing.T) {
	tables, err := ParseTables(strings.NewReader(statusPage))
	require.NoError(t, err)
	require.Len(t, tables, 3)

	assert.Equal(t, "Startup Procedure", tables[0].Heading)
	assert.Equal(t, []string{"Procedure", "Status"}, tables[0].Headers)

	ds, ok := FindTable(tables, "downstream bonded")
	require.True(t, ok)
	assert.Equal(t, []string{"Channel ID", "Lock Status", "Power", "SNR"}, ds.Headers)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "38.5 dB", ds.Rows[0][3])

	us, ok := FindTable(tables, "upstream")
	require.True(t, ok)
	assert.Empty(t, us.Headers)
	assert.Len(t, us.Rows, 1)

	_, ok = FindTable(tables, "nothing")
	assert.False(t, ok)
}

func TestResolveColumns(t *testing.T) {
	cols := []Column{
		{Name: "id", Keywords: []string{"channel id"}, Fallback: 0},
		{Name: "lock", Keywords: []string{"lock"}, Fallback: 1},
		{Name: "snr", Keywords: []string{"snr"}, Fallback: 3},
		{Name: "power", Keywords: []string{"power"}, Fallback: 2},
	}

	withHeaders := Table{Headers: []string{"Channel ID", "Lock Status", "Power", "SNR"}}
	idx, fellBack := withHeaders.Resolve(cols)
	assert.False(t, fellBack)
	assert.Equal(t, map[string]int{"id": 0, "lock": 1, "power": 2, "snr": 3}, idx)

	renamed := Table{Headers: []string{"Channel ID", "Lock Status", "Level", "SNR"}}
	idx, fellBack = renamed.Resolve(cols)
	assert.True(t, fellBack)
	assert.Equal(t, 2, idx["power"])

	assert.Equal(t, "", Cell([]string{"a"}, 3))
	assert.Equal(t, "a", Cell([]string{"a"}, 0))
}
