package fritzbox

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChallenge = "2$10000$5A1711$2000$5A1722"
	testPassword  = "1example!"
	testResponse  = "5A1722$1798a1672bca7c6463d6b245f82b53703b0f50813401b03e4045a5861e689adb"
	testSID       = "0123456789abcdef"
)

const docInfo = `{"data": {
	"channelDs": {
		"docsis30": [
			{"channelID": 1, "frequency": "602", "modulation": "256QAM", "powerLevel": "5.4", "mse": "-36.4", "corrErrors": 12, "nonCorrErrors": 3},
			{"channelID": 2, "frequency": "610", "modulation": "256QAM", "powerLevel": "5.1", "mse": "-35.8", "corrErrors": 0, "nonCorrErrors": 0}
		],
		"docsis31": [
			{"channelID": 33, "frequency": "751 - 861", "powerLevel": "7.2", "mer": "41", "corrErrors": 100, "nonCorrErrors": 0}
		]
	},
	"channelUs": {
		"docsis30": [
			{"channelID": 1, "frequency": "37", "modulation": "64QAM", "powerLevel": "44.0", "multiplex": "ATDMA"}
		],
		"docsis31": [
			{"channelID": 9, "frequency": "29.8 - 64.8", "powerLevel": "38.5"}
		]
	}
}}`

type fakeBox struct {
	logins  int
	logouts int
	locked  bool
}

func (f *fakeBox) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sid := zeroSID
		challenge := testChallenge
		block := 0

		switch {
		case r.Method == http.MethodPost:
			f.logins++
			if r.PostForm.Get("response") == testResponse && r.PostForm.Get("username") == "admin" {
				sid = testSID
			}
		case r.Form.Get("logout") == "1":
			f.logouts++
		case r.Form.Get("sid") == testSID:
			sid = testSID
		case f.locked:
			block = 30
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><SessionInfo><SID>%s</SID><Challenge>%s</Challenge><BlockTime>%d</BlockTime></SessionInfo>`, sid, challenge, block)
	})
	mux.HandleFunc(dataPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("sid") != testSID {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.PostForm.Get("page") {
		case "docInfo":
			fmt.Fprint(w, docInfo)
		case "overview":
			fmt.Fprint(w, `{"data": {"fritzos": {"Productname": "FRITZ!Box 6660 Cable", "nspver": "7.57"}}}`)
		default:
			fmt.Fprint(w, `{"data": {}}`)
		}
	})
	return mux
}

func TestChallengeResponse(t *testing.T) {
	got, err := challengeResponse(testChallenge, testPassword)
	require.NoError(t, err)
	assert.Equal(t, testResponse, got)

	got, err = challengeResponse("1234567z", "äbc")
	require.NoError(t, err)
	assert.Equal(t, "1234567z-9e224a41eeefa284df7bb0f26c2913e2", got)

	_, err = challengeResponse("2$x$y", "pw")
	assert.Error(t, err)
}

func TestLoginAndReadChannels(t *testing.T) {
	box := &fakeBox{}
	srv := httptest.NewServer(box.handler(t))
	defer srv.Close()

	d := New(srv.URL, "admin", testPassword)
	ctx := context.Background()

	require.NoError(t, d.Login(ctx))
	require.NoError(t, d.Login(ctx), "existing session is reused")
	assert.Equal(t, 1, box.logins)

	r, err := d.ReadChannels(ctx)
	require.NoError(t, err)
	require.Len(t, r.Downstream, 3)
	require.Len(t, r.Upstream, 2)

	assert.Equal(t, modem.DownstreamChannel{
		ChannelID: 1, FrequencyMHz: 602, Power: 5.4, Modulation: "qam_256",
		SNR: modem.Float(-36.4), Corrected: 12, Uncorrected: 3, DOCSISVersion: modem.DOCSIS30,
	}, r.Downstream[0])
	assert.Equal(t, 751, r.Downstream[2].FrequencyMHz)
	assert.Equal(t, "ofdm", r.Downstream[2].Modulation)
	assert.InDelta(t, 41.0, *r.Downstream[2].MER, 1e-9)

	assert.Equal(t, "qam_64", r.Upstream[0].Modulation)
	assert.Equal(t, 44.0, r.Upstream[0].Power)
	assert.InDelta(t, 44.5, r.Upstream[1].Power, 1e-9, "DOCSIS 3.1 upstream is compensated by 6 dB")
	assert.Equal(t, modem.DOCSIS31, r.DownstreamVersion)
	assert.Equal(t, modem.DOCSIS31, r.UpstreamVersion)

	info := d.ReadDeviceInfo(ctx)
	assert.Equal(t, "FRITZ!Box 6660 Cable", info.Model)
	assert.Equal(t, "7.57", info.Firmware)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, box.logouts)
	require.NoError(t, d.Close(), "second close is a no-op")
	assert.Equal(t, 1, box.logouts)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := httptest.NewServer((&fakeBox{}).handler(t))
	defer srv.Close()

	d := New(srv.URL, "admin", "wrong")
	err := d.Login(context.Background())

	var ae *modem.AuthError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthInvalidCredentials, ae.Kind)
}

func TestLoginBlocked(t *testing.T) {
	srv := httptest.NewServer((&fakeBox{locked: true}).handler(t))
	defer srv.Close()

	err := New(srv.URL, "admin", testPassword).Login(context.Background())

	var ae *modem.AuthError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthAccountLocked, ae.Kind)
	assert.Equal(t, 30*time.Second, ae.RetryAfter)
}

func TestLoginUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, "admin", testPassword).Login(context.Background())

	var ae *modem.AuthError
	require.True(t, stderrors.As(err, &ae))
	assert.Equal(t, modem.AuthNetworkError, ae.Kind)
}

func TestReadChannelsMissingTables(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(dataPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data": {"other": 1}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(srv.URL, "admin", testPassword).ReadChannels(context.Background())

	var de *modem.DataError
	require.True(t, stderrors.As(err, &de))
}
