// Package cga4233 reads DOCSIS data from Technicolor CGA4233 gateways, which
// use a salted double-PBKDF2 login and a JSON REST API.
package cga4233

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Vendor     = "cga4233"
	DefaultURL = "http://192.168.0.1"

	loginPath  = "/api/v1/session/login"
	logoutPath = "/api/v1/session/logout"
	docsisPath = "/api/v1/sta_docsis_status"
	systemPath = "/api/v1/system/ModelName,SoftwareVersion,HardwareVersion,SerialNumber,MACAddressRT,UpTime"
	wanPath    = "/api/v1/system/WANIPv4"

	saltSentinel = "seeksalthash"
	iterations   = 1000
	keyLen       = 16
)

type Driver struct {
	t        *modem.Transport
	username string
	password string
	csrf     string
}

func New(baseURL, username, password string) *Driver {
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.SlowTimeout),
		username: username,
		password: password,
	}
}

// HashPassword derives the login hash from the salt pair.
func HashPassword(password, salt, saltWebUI string) string {
	if salt == "none" {
		return password
	}
	hash1 := hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, sha256.New))
	return hex.EncodeToString(pbkdf2.Key([]byte(hash1), []byte(saltWebUI), iterations, keyLen, sha256.New))
}

func (d *Driver) post(ctx context.Context, path string, form url.Values) (gjson.Result, error) {
	var body bytes.Buffer
	req := d.t.Request(path).
		Header("X-Requested-With", "XMLHttpRequest").
		ToBytesBuffer(&body)
	if form != nil {
		req = req.BodyForm(form)
	} else {
		req = req.Post()
	}
	if d.csrf != "" {
		req = req.Header("X-CSRF-TOKEN", d.csrf)
	}
	if err := req.Fetch(ctx); err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body.Bytes()) {
		return gjson.Result{}, modem.Malformed(path+": response is not JSON", nil)
	}
	return gjson.ParseBytes(body.Bytes()), nil
}

func (d *Driver) get(ctx context.Context, path string) (gjson.Result, error) {
	var body bytes.Buffer
	req := d.t.Request(path).
		Header("X-Requested-With", "XMLHttpRequest").
		ToBytesBuffer(&body)
	if d.csrf != "" {
		req = req.Header("X-CSRF-TOKEN", d.csrf)
	}
	if err := req.Fetch(ctx); err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body.Bytes()) {
		return gjson.Result{}, modem.Malformed(path+": response is not JSON", nil)
	}
	return gjson.ParseBytes(body.Bytes()), nil
}

func (d *Driver) Login(ctx context.Context) error {
	// a stale session makes the salt request fail, so always start clean
	d.csrf = ""
	d.t.ResetSession()

	salts, err := d.post(ctx, loginPath, url.Values{
		"username": {d.username},
		"password": {saltSentinel},
	})
	if err != nil {
		return modem.LoginFailure("request salt", err)
	}
	if err := loginError(salts); err != nil {
		return err
	}
	salt := salts.Get("salt").String()
	saltWebUI := salts.Get("saltwebui").String()
	if salt == "" || saltWebUI == "" {
		return modem.ProtocolError("salt missing in response", nil)
	}

	res, err := d.post(ctx, loginPath, url.Values{
		"username": {d.username},
		"password": {HashPassword(d.password, salt, saltWebUI)},
	})
	if err != nil {
		return modem.LoginFailure("send password hash", err)
	}
	if err := loginError(res); err != nil {
		return err
	}

	d.csrf = res.Get("token").String()
	if d.csrf == "" {
		d.csrf = d.t.Cookie("auth")
	}
	return nil
}

// loginError maps the "error"/"message" pair of a login response.
func loginError(res gjson.Result) error {
	if strings.EqualFold(res.Get("error").String(), "ok") {
		return nil
	}
	msg := res.Get("message").String()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "lock"):
		return modem.AccountLocked(msg, time.Duration(res.Get("data.remainingTime").Int())*time.Second)
	case strings.Contains(lower, "other user") || strings.Contains(lower, "logged in"):
		return modem.ProtocolError("another session is active: "+msg, nil)
	case msg == "":
		return modem.ProtocolError("login rejected without message", nil)
	default:
		return modem.InvalidCredentials(msg)
	}
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	doc, err := d.get(ctx, docsisPath)
	if err != nil {
		return nil, modem.ReadFailure("docsis status", err)
	}
	data := doc.Get("data")
	if !data.Get("downstream").IsArray() && !data.Get("upstream").IsArray() {
		return nil, modem.Malformed("docsis status: channel tables missing", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}

	data.Get("downstream").ForEach(func(_, ch gjson.Result) bool {
		if !locked(ch.Get("locked")) {
			return true
		}
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     int(modem.ParseInt(ch.Get("channelid").String())),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("CentralFrequency").String()),
			Power:         modem.ParseFloat(ch.Get("power").String()),
			Modulation:    modem.NormalizeModulation(ch.Get("FFT").String()),
			SNR:           modem.OptionalFloat(ch.Get("SNR").String()),
			Corrected:     modem.ParseInt(ch.Get("correcteds").String()),
			Uncorrected:   modem.ParseInt(ch.Get("uncorrect").String()),
			DOCSISVersion: modem.DOCSIS30,
		})
		return true
	})
	data.Get("ofdm_downstream").ForEach(func(_, ch gjson.Result) bool {
		if !locked(ch.Get("locked_ofdm")) {
			return true
		}
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     int(modem.ParseInt(ch.Get("channelid_ofdm").String())),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("start_frequency").String()),
			Power:         modem.ParseFloat(ch.Get("power_ofdm").String()),
			Modulation:    "ofdm",
			MER:           modem.OptionalFloat(ch.Get("SNR_ofdm").String()),
			Corrected:     modem.ParseInt(ch.Get("correcteds").String()),
			Uncorrected:   modem.ParseInt(ch.Get("uncorrect").String()),
			DOCSISVersion: modem.DOCSIS31,
		})
		return true
	})
	data.Get("upstream").ForEach(func(_, ch gjson.Result) bool {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:     int(modem.ParseInt(ch.Get("channelidup").String())),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("CentralFrequency").String()),
			Power:         modem.ParseFloat(ch.Get("power").String()),
			Modulation:    modem.NormalizeModulation(ch.Get("FFT").String()),
			SymbolRate:    int(modem.ParseInt(ch.Get("SymbolRate").String())),
			Multiplex:     strings.ToLower(ch.Get("ChannelType").String()),
			DOCSISVersion: modem.DOCSIS30,
		})
		return true
	})
	data.Get("ofdma_upstream").ForEach(func(_, ch gjson.Result) bool {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:     int(modem.ParseInt(ch.Get("channelidup").String())),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Get("start_frequency").String()),
			Power:         modem.ParseFloat(ch.Get("power").String()),
			Modulation:    "ofdma",
			Multiplex:     "ofdma",
			DOCSISVersion: modem.DOCSIS31,
		})
		return true
	})

	r.Finalize()
	return r, nil
}

// locked treats a missing lock field as locked.
func locked(v gjson.Result) bool {
	return !v.Exists() || modem.IsLocked(v.String())
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("Technicolor")
	doc, err := d.get(ctx, systemPath)
	if err != nil {
		return info
	}
	data := doc.Get("data")
	if v := data.Get("ModelName").String(); v != "" {
		info.Model = v
	}
	info.Firmware = data.Get("SoftwareVersion").String()
	info.Hardware = data.Get("HardwareVersion").String()
	info.Serial = data.Get("SerialNumber").String()
	info.MAC = data.Get("MACAddressRT").String()
	info.Uptime = time.Duration(data.Get("UpTime").Int()) * time.Second
	return info
}

func (d *Driver) ReadConnectionInfo(ctx context.Context) modem.ConnectionInfo {
	doc, err := d.get(ctx, wanPath)
	if err != nil {
		return modem.ConnectionInfo{}
	}
	return modem.ConnectionInfo{
		WANIP:          doc.Get("data.WANIPv4").String(),
		ConnectionType: "cable",
	}
}

func (d *Driver) Close() error {
	if d.csrf == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), modem.DefaultTimeout)
	defer cancel()

	_, err := d.post(ctx, logoutPath, nil)
	d.csrf = ""
	d.t.ResetSession()
	return err
}
