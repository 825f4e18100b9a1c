package sb6190

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

const statusHTML = `<html><body>
<table class="simpleTable">
<tr><th colspan="9"><strong>Downstream Bonded Channels</strong></th></tr>
<tr><td><strong>Channel</strong></td><td><strong>Lock Status</strong></td><td><strong>Modulation</strong></td><td><strong>Channel ID</strong></td><td><strong>Frequency</strong></td><td><strong>Power</strong></td><td><strong>SNR</strong></td><td><strong>Corrected</strong></td><td><strong>Uncorrectables</strong></td></tr>
<tr><td>1</td><td>Locked</td><td>256QAM</td><td>17</td><td>579000000 Hz</td><td>4.2 dBmV</td><td>40.4 dB</td><td>12</td><td>3</td></tr>
<tr><td>2</td><td>Not Locked</td><td>Unknown</td><td>0</td><td>0 Hz</td><td>0.0 dBmV</td><td>0.0 dB</td><td>0</td><td>0</td></tr>
</table>
<table class="simpleTable">
<tr><th colspan="7"><strong>Upstream Bonded Channels</strong></th></tr>
<tr><td><strong>Channel</strong></td><td><strong>Lock Status</strong></td><td><strong>US Channel Type</strong></td><td><strong>Channel ID</strong></td><td><strong>Symbol Rate</strong></td><td><strong>Frequency</strong></td><td><strong>Power</strong></td></tr>
<tr><td>1</td><td>Locked</td><td>ATDMA</td><td>3</td><td>5120 Ksym/sec</td><td>36700000 Hz</td><td>45.0 dBmV</td></tr>
</table>
</body></html>`

const swinfoHTML = `<table>
<tr><th colspan="2">Information</th></tr>
<tr><td>Hardware Version</td><td>7</td></tr>
<tr><td>Software Version</td><td>9.1.103AA72</td></tr>
<tr><td>Cable Modem MAC Address</td><td>aa:bb:cc:dd:ee:ff</td></tr>
<tr><td>Serial Number</td><td>G123</td></tr>
</table>`

func server(t *testing.T, status string, loginCode int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "admin", r.PostForm.Get("username"))
		w.WriteHeader(loginCode)
	})
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, status)
	})
	mux.HandleFunc(swinfoPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, swinfoHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginAndRead(t *testing.T) {
	srv := server(t, statusHTML, http.StatusOK)
	d := New(srv.URL, "", "pw")
	ctx := context.Background()

	require.NoError(t, d.Login(ctx))

	r, err := d.ReadChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, r.Warnings)

	require.Len(t, r.Downstream, 1)
	assert.Equal(t, modem.DownstreamChannel{
		ChannelID: 17, FrequencyMHz: 579, Power: 4.2, Modulation: "qam_256", SNR: modem.Float(40.4),
		Corrected: 12, Uncorrected: 3, DOCSISVersion: modem.DOCSIS30,
	}, r.Downstream[0])

	require.Len(t, r.Upstream, 1)
	assert.Equal(t, 3, r.Upstream[0].ChannelID)
	assert.Equal(t, 5120, r.Upstream[0].SymbolRate)
	assert.Equal(t, 37, r.Upstream[0].FrequencyMHz)
	assert.Equal(t, 45.0, r.Upstream[0].Power)

	info := d.ReadDeviceInfo(ctx)
	assert.Equal(t, "9.1.103AA72", info.Firmware)
	assert.Equal(t, "G123", info.Serial)
	assert.NoError(t, d.Close())
}

func TestLoginWithoutForm(t *testing.T) {
	srv := server(t, statusHTML, http.StatusNotFound)
	assert.NoError(t, New(srv.URL, "", "").Login(context.Background()))
}

func TestLoginRejected(t *testing.T) {
	srv := server(t, statusHTML, http.StatusUnauthorized)
	err := New(srv.URL, "", "pw").Login(context.Background())

	var ae *modem.AuthError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthInvalidCredentials, ae.Kind)

	srv = server(t, `<form><input type="password" name="password"></form>`, http.StatusOK)
	err = New(srv.URL, "", "pw").Login(context.Background())
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthInvalidCredentials, ae.Kind)
}

func TestReadChannelsWithoutTables(t *testing.T) {
	srv := server(t, `<html><body><p>Rebooting</p></body></html>`, http.StatusOK)
	_, err := New(srv.URL, "", "pw").ReadChannels(context.Background())

	var de *modem.DataError
	assert.True(t, stderrors.As(err, &de))
}
