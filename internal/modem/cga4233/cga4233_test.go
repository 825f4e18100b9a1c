package cga4233

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

const docsisStatus = `{"error": "ok", "data": {
	"downstream": [
		{"channelid": "1", "CentralFrequency": "602 MHz", "power": "5.1 dBmV", "SNR": "40.4", "FFT": "256QAM", "locked": "Locked", "correcteds": "10", "uncorrect": "2"},
		{"channelid": "2", "CentralFrequency": "610 MHz", "power": "0 dBmV", "SNR": "0", "FFT": "256QAM", "locked": "Not Locked", "correcteds": "0", "uncorrect": "0"}
	],
	"ofdm_downstream": [
		{"channelid_ofdm": "33", "start_frequency": "751", "power_ofdm": "6.3", "SNR_ofdm": "42", "locked_ofdm": "Locked", "correcteds": "5", "uncorrect": "0"}
	],
	"upstream": [
		{"channelidup": "1", "CentralFrequency": "37 MHz", "power": "44.5 dBmV", "FFT": "64QAM", "SymbolRate": "5120", "ChannelType": "ATDMA"}
	],
	"ofdma_upstream": []
}}`

type fakeGateway struct {
	salt     string
	locked   bool
	loggedIn bool
	logouts  int
}

func (f *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		pw := r.PostForm.Get("password")
		switch {
		case f.locked:
			fmt.Fprint(w, `{"error": "error", "message": "Account locked", "data": {"remainingTime": 60}}`)
		case pw == saltSentinel:
			fmt.Fprintf(w, `{"error": "ok", "salt": %q, "saltwebui": "webUiSalt"}`, f.salt)
		case pw == HashPassword("secret", f.salt, "webUiSalt"):
			f.loggedIn = true
			fmt.Fprint(w, `{"error": "ok", "message": "all good", "token": "csrf-123"}`)
		default:
			fmt.Fprint(w, `{"error": "error", "message": "MSG_LOGIN_1"}`)
		}
	})
	mux.HandleFunc(docsisPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.loggedIn || r.Header.Get("X-CSRF-TOKEN") != "csrf-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, docsisStatus)
	})
	mux.HandleFunc(logoutPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f.logouts++
		fmt.Fprint(w, `{"error": "ok"}`)
	})
	return mux
}

func TestHashPassword(t *testing.T) {
	assert.Equal(t, "c6c66a1cfebe219fb5c8d4afc7cdf3e4", HashPassword("secret", "aBcD1234", "webUiSalt"))
	assert.Equal(t, "secret", HashPassword("secret", "none", "x"))
}

func TestLoginAndRead(t *testing.T) {
	gw := &fakeGateway{salt: "aBcD1234"}
	srv := httptest.NewServer(gw.handler(t))
	defer srv.Close()

	d := New(srv.URL, "admin", "secret")
	ctx := context.Background()
	require.NoError(t, d.Login(ctx))

	r, err := d.ReadChannels(ctx)
	require.NoError(t, err)
	require.Len(t, r.Downstream, 2, "unlocked channel is skipped")
	assert.Equal(t, 602, r.Downstream[0].FrequencyMHz)
	assert.Equal(t, 5.1, r.Downstream[0].Power)
	assert.Equal(t, "qam_256", r.Downstream[0].Modulation)
	assert.Equal(t, int64(2), r.Downstream[0].Uncorrected)
	assert.Equal(t, "ofdm", r.Downstream[1].Modulation)
	assert.Equal(t, modem.DOCSIS31, r.Downstream[1].DOCSISVersion)

	require.Len(t, r.Upstream, 1)
	assert.Equal(t, 5120, r.Upstream[0].SymbolRate)
	assert.Equal(t, "atdma", r.Upstream[0].Multiplex)
	assert.Equal(t, modem.DOCSIS30, r.UpstreamVersion)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, gw.logouts)
}

func TestLoginErrors(t *testing.T) {
	srv := httptest.NewServer((&fakeGateway{salt: "s"}).handler(t))
	defer srv.Close()

	var ae *modem.AuthError
	err := New(srv.URL, "admin", "nope").Login(context.Background())
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthInvalidCredentials, ae.Kind)
	assert.Equal(t, "MSG_LOGIN_1", ae.Detail)

	locked := httptest.NewServer((&fakeGateway{salt: "s", locked: true}).handler(t))
	defer locked.Close()
	err = New(locked.URL, "admin", "secret").Login(context.Background())
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthAccountLocked, ae.Kind)
}

func TestReadWithoutSession(t *testing.T) {
	srv := httptest.NewServer((&fakeGateway{salt: "s"}).handler(t))
	defer srv.Close()

	_, err := New(srv.URL, "admin", "secret").ReadChannels(context.Background())
	require.Error(t, err)

	var de *modem.DataError
	assert.True(t, stderrors.As(err, &de))
}
