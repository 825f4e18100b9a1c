// Package fritzbox reads DOCSIS data from AVM FRITZ!Box cable routers.
package fritzbox

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/tidwall/gjson"
)

const (
	Vendor     = "fritzbox"
	DefaultURL = "http://192.168.178.1"

	loginPath = "/login_sid.lua"
	dataPath  = "/data.lua"

	// DOCSIS 3.1 upstream power is shown 6 dB too low by FRITZ!OS.
	us31PowerOffset = 6.0
)

type Driver struct {
	t        *modem.Transport
	username string
	password string
	sid      string
}

func New(baseURL, username, password string) *Driver {
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.DefaultTimeout),
		username: username,
		password: password,
	}
}

func (d *Driver) sessionInfo(ctx context.Context, params map[string]string) (sessionInfo, error) {
	var body bytes.Buffer
	req := d.t.Request(loginPath).Param("version", "2")
	for k, v := range params {
		req = req.Param(k, v)
	}
	if err := req.ToBytesBuffer(&body).Fetch(ctx); err != nil {
		return sessionInfo{}, err
	}
	return parseSessionInfo(body.Bytes())
}

func (d *Driver) Login(ctx context.Context) error {
	if d.sid != "" {
		si, err := d.sessionInfo(ctx, map[string]string{"sid": d.sid})
		if err == nil && si.valid() && si.SID == d.sid {
			return nil
		}
		d.sid = ""
	}

	si, err := d.sessionInfo(ctx, nil)
	if err != nil {
		return modem.LoginFailure("fetch challenge", err)
	}
	if si.BlockTime > 0 {
		return modem.AccountLocked("login blocked after failed attempts", time.Duration(si.BlockTime)*time.Second)
	}
	if si.Challenge == "" {
		return modem.ProtocolError("no challenge in session info", nil)
	}

	response, err := challengeResponse(si.Challenge, d.password)
	if err != nil {
		return modem.ProtocolError("compute challenge response", err)
	}

	var body bytes.Buffer
	err = d.t.Request(loginPath).
		Param("version", "2").
		BodyForm(url.Values{
			"username": {d.username},
			"response": {response},
		}).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return modem.LoginFailure("send challenge response", err)
	}

	si, err = parseSessionInfo(body.Bytes())
	if err != nil {
		return modem.ProtocolError("parse login response", err)
	}
	if !si.valid() {
		ae := modem.InvalidCredentials("wrong username or password")
		ae.RetryAfter = time.Duration(si.BlockTime) * time.Second
		return ae
	}

	d.sid = si.SID
	return nil
}

func (d *Driver) page(ctx context.Context, page string) (gjson.Result, error) {
	var body bytes.Buffer
	err := d.t.Request(dataPath).
		BodyForm(url.Values{
			"xhr":         {"1"},
			"sid":         {d.sid},
			"lang":        {"en"},
			"page":        {page},
			"xhrId":       {"all"},
			"no_sidrenew": {""},
		}).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body.Bytes()) {
		return gjson.Result{}, modem.Malformed(page+": response is not JSON", nil)
	}
	return gjson.ParseBytes(body.Bytes()), nil
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	doc, err := d.page(ctx, "docInfo")
	if err != nil {
		return nil, modem.ReadFailure("docInfo", err)
	}

	ds := doc.Get("data.channelDs")
	us := doc.Get("data.channelUs")
	if !ds.Exists() && !us.Exists() {
		return nil, modem.Malformed("docInfo: channel tables missing", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}
	ds.Get("docsis30").ForEach(func(_, ch gjson.Result) bool {
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     int(ch.Get("channelID").Int()),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("frequency").String()),
			Power:         modem.ParseFloat(ch.Get("powerLevel").String()),
			Modulation:    modem.NormalizeModulation(ch.Get("modulation").String()),
			SNR:           modem.OptionalFloat(ch.Get("mse").String()),
			Corrected:     ch.Get("corrErrors").Int(),
			Uncorrected:   ch.Get("nonCorrErrors").Int(),
			DOCSISVersion: modem.DOCSIS30,
		})
		return true
	})
	ds.Get("docsis31").ForEach(func(_, ch gjson.Result) bool {
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     int(ch.Get("channelID").Int()),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("frequency").String()),
			Power:         modem.ParseFloat(ch.Get("powerLevel").String()),
			Modulation:    "ofdm",
			MER:           modem.OptionalFloat(ch.Get("mer").String()),
			Corrected:     ch.Get("corrErrors").Int(),
			Uncorrected:   ch.Get("nonCorrErrors").Int(),
			DOCSISVersion: modem.DOCSIS31,
		})
		return true
	})
	us.Get("docsis30").ForEach(func(_, ch gjson.Result) bool {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:     int(ch.Get("channelID").Int()),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("frequency").String()),
			Power:         modem.ParseFloat(ch.Get("powerLevel").String()),
			Modulation:    modem.NormalizeModulation(ch.Get("modulation").String()),
			Multiplex:     strings.ToLower(ch.Get("multiplex").String()),
			DOCSISVersion: modem.DOCSIS30,
		})
		return true
	})
	us.Get("docsis31").ForEach(func(_, ch gjson.Result) bool {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:     int(ch.Get("channelID").Int()),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("frequency").String()),
			Power:         modem.ParseFloat(ch.Get("powerLevel").String()) + us31PowerOffset,
			Modulation:    "ofdma",
			DOCSISVersion: modem.DOCSIS31,
		})
		return true
	})

	r.Finalize()
	return r, nil
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("AVM")
	doc, err := d.page(ctx, "overview")
	if err != nil {
		return info
	}
	fos := doc.Get("data.fritzos")
	if v := fos.Get("Productname").String(); v != "" {
		info.Model = v
	}
	info.Firmware = fos.Get("nspver").String()
	return info
}

func (d *Driver) ReadConnectionInfo(ctx context.Context) modem.ConnectionInfo {
	doc, err := d.page(ctx, "netMoni")
	if err != nil {
		return modem.ConnectionInfo{}
	}
	conn := doc.Get("data.connections.0")
	return modem.ConnectionInfo{
		// netMoni reports bit/s
		DownstreamMbps: conn.Get("downstream").Float() / 1e6,
		UpstreamMbps:   conn.Get("upstream").Float() / 1e6,
		ConnectionType: conn.Get("medium").String(),
		WANIP:          conn.Get("ipv4.ip").String(),
	}
}

// Close ends the session on the device.
func (d *Driver) Close() error {
	if d.sid == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), modem.DefaultTimeout)
	defer cancel()

	_, err := d.sessionInfo(ctx, map[string]string{"logout": "1", "sid": d.sid})
	d.sid = ""
	d.t.ResetSession()
	return err
}
