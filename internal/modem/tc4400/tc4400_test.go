package tc4400

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dsHeader = `<tr><th>Channel Index</th><th>Channel ID</th><th>Lock Status</th><th>Channel Type</th><th>Bonding Status</th><th>Center Frequency</th><th>Channel Width</th><th>SNR/MER Threshold Value</th><th>Received Level</th><th>Modulation/Profile ID</th><th>Unerrored Codewords</th><th>Corrected Codewords</th><th>Uncorrectable Codewords</th></tr>`

// firmware that renamed every column
const dsHeaderRenamed = `<tr><th>#</th><th>ID</th><th>State</th><th>Kind</th><th>Bonded</th><th>Center</th><th>Span</th><th>Quality</th><th>Rx</th><th>Scheme</th><th>Good</th><th>Fixed</th><th>Lost</th></tr>`

const dsRows = `
<tr><td>1</td><td>5</td><td>Locked</td><td>SC-QAM</td><td>Bonded</td><td>602000000 Hz</td><td>8000000 Hz</td><td>38.6 dB</td><td>3.1 dBmV</td><td>QAM256</td><td>1000</td><td>20</td><td>4</td></tr>
<tr><td>2</td><td>33</td><td>Locked</td><td>OFDM</td><td>Bonded</td><td>751000000 Hz</td><td>96000000 Hz</td><td>40.2 dB</td><td>5.0 dBmV</td><td>OFDM PLC</td><td>50000</td><td>300</td><td>0</td></tr>
<tr><td>3</td><td>6</td><td>Not Locked</td><td>SC-QAM</td><td>Not Bonded</td><td>0 Hz</td><td>0 Hz</td><td>0 dB</td><td>0 dBmV</td><td>QAM256</td><td>0</td><td>0</td><td>0</td></tr>`

const usTable = `<table>
<tr><th colspan="9">Upstream Channel Status</th></tr>
<tr><th>Channel Index</th><th>Channel ID</th><th>Lock Status</th><th>Channel Type</th><th>Bonding Status</th><th>Center Frequency</th><th>Channel Width</th><th>Transmit Level</th><th>Modulation/Profile ID</th></tr>
<tr><td>1</td><td>1</td><td>Locked</td><td>SC-QAM</td><td>Bonded</td><td>37000000 Hz</td><td>6400000 Hz</td><td>44.3 dBmV</td><td>QAM64</td></tr>
</table>`

func page(dsHeaderRow string) string {
	return `<html><body><table><tr><th colspan="13">Downstream Channel Status</th></tr>` +
		dsHeaderRow + dsRows + `</table>` + usTable + `</body></html>`
}

func server(t *testing.T, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReadWithHeaders(t *testing.T) {
	srv := server(t, page(dsHeader))
	d := New(srv.URL, "", "secret")
	ctx := context.Background()

	require.NoError(t, d.Login(ctx))
	r, err := d.ReadChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, r.Warnings)

	require.Len(t, r.Downstream, 2)
	assert.Equal(t, modem.DownstreamChannel{
		ChannelID: 5, FrequencyMHz: 602, Power: 3.1, Modulation: "qam_256", SNR: modem.Float(38.6),
		Corrected: 20, Uncorrected: 4, DOCSISVersion: modem.DOCSIS30,
	}, r.Downstream[0])
	assert.Equal(t, "ofdm", r.Downstream[1].Modulation)
	assert.InDelta(t, 40.2, *r.Downstream[1].MER, 1e-9)
	assert.Equal(t, int64(300), r.Downstream[1].Corrected)

	require.Len(t, r.Upstream, 1)
	assert.Equal(t, "qam_64", r.Upstream[0].Modulation)
	assert.Equal(t, 44.3, r.Upstream[0].Power)
	assert.Equal(t, 5120, r.Upstream[0].SymbolRate)
}

func TestReadWithRenamedHeadersFlagsLowConfidence(t *testing.T) {
	srv := server(t, page(dsHeaderRenamed))
	r, err := New(srv.URL, "", "secret").ReadChannels(context.Background())
	require.NoError(t, err)

	assert.Contains(t, r.Warnings, "downstream columns matched by position")
	require.Len(t, r.Downstream, 2)
	assert.Equal(t, 5, r.Downstream[0].ChannelID)
	assert.Equal(t, 3.1, r.Downstream[0].Power)
	assert.Equal(t, int64(4), r.Downstream[0].Uncorrected)
}

func TestLoginRejected(t *testing.T) {
	srv := server(t, page(dsHeader))
	err := New(srv.URL, "", "wrong").Login(context.Background())

	var ae *modem.AuthError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthInvalidCredentials, ae.Kind)
}

func TestReadWithoutTables(t *testing.T) {
	srv := server(t, `<html><body>maintenance</body></html>`)
	_, err := New(srv.URL, "", "secret").ReadChannels(context.Background())

	var de *modem.DataError
	assert.True(t, stderrors.As(err, &de))
}
