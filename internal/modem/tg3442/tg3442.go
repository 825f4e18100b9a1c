// Package tg3442 reads DOCSIS data from Arris TG3442 gateways. Login uses
// an AES-CCM encrypted credential envelope and channel data is embedded as
// JavaScript arrays in the status page.
package tg3442

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/tidwall/gjson"
)

const (
	Vendor     = "tg3442"
	DefaultURL = "http://192.168.0.1"

	loginPagePath = "/"
	passwordPath  = "/php/ajaxSet_Password.php"
	docsisPath    = "/php/status_docsis_data.php"
	overviewPath  = "/php/overview_data.php"
	logoutPath    = "/php/logout.php"
)

var (
	ivRe      = regexp.MustCompile(`var\s+myIv\s*=\s*["']([0-9a-fA-F]+)["']`)
	saltRe    = regexp.MustCompile(`var\s+mySalt\s*=\s*["']([0-9a-fA-F]+)["']`)
	sessionRe = regexp.MustCompile(`var\s+currentSessionId\s*=\s*["']([^"']*)["']`)
	dsDataRe  = regexp.MustCompile(`(?s)json_dsData\s*=\s*(\[.*?\]);`)
	usDataRe  = regexp.MustCompile(`(?s)json_usData\s*=\s*(\[.*?\]);`)
	jsVarRe   = regexp.MustCompile(`js_(\w+)\s*=\s*["']([^"']*)["']`)
)

type Driver struct {
	t         *modem.Transport
	username  string
	password  string
	csrfNonce string
}

func New(baseURL, username, password string) *Driver {
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.SlowTimeout),
		username: username,
		password: password,
	}
}

type credentials struct {
	Password string `json:"Password"`
	Nonce    string `json:"Nonce"`
}

type loginRequest struct {
	EncryptData string `json:"EncryptData"`
	Name        string `json:"Name"`
	AuthData    string `json:"AuthData"`
}

func (d *Driver) Login(ctx context.Context) error {
	d.csrfNonce = ""
	d.t.ResetSession()

	var page string
	if err := d.t.Request(loginPagePath).ToString(&page).Fetch(ctx); err != nil {
		return modem.LoginFailure("fetch login page", err)
	}

	salt := match(saltRe, page)
	if salt == "" {
		return modem.ProtocolError("salt missing from login page", nil)
	}
	iv := match(ivRe, page)
	if iv == "" {
		var err error
		if iv, err = randomHex(nonceSize); err != nil {
			return modem.ProtocolError("generate nonce", err)
		}
	}
	sessionID := match(sessionRe, page)

	env, err := newEnvelope(d.password, salt, iv)
	if err != nil {
		return modem.ProtocolError("derive key", err)
	}

	plaintext, err := json.Marshal(credentials{Password: d.password, Nonce: sessionID})
	if err != nil {
		return modem.ProtocolError("encode credentials", err)
	}

	var body bytes.Buffer
	err = d.t.Request(passwordPath).
		Put().
		Header("X-Requested-With", "XMLHttpRequest").
		Header("csrfNonce", "undefined").
		BodyJSON(loginRequest{
			EncryptData: env.seal(plaintext, authLogin),
			Name:        d.username,
			AuthData:    authLogin,
		}).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return modem.LoginFailure("send credentials", err)
	}

	res := gjson.ParseBytes(body.Bytes())
	switch status := res.Get("p_status").String(); status {
	case "Match":
	case "Lockout":
		wait := time.Duration(res.Get("p_waitTime").Int()) * time.Second
		return modem.AccountLocked("too many failed attempts", wait)
	case "AdminMatch":
		return modem.ProtocolError("another administrator is logged in", nil)
	case "":
		return modem.ProtocolError("unexpected login response", nil)
	default:
		return modem.InvalidCredentials("password rejected (" + status + ")")
	}

	nonce, err := env.open(res.Get("encryptData").String(), authNonce)
	if err != nil {
		return modem.ProtocolError("decrypt csrf nonce", err)
	}
	d.csrfNonce = string(nonce)

	d.t.SetCookie("credential", d.csrfNonce)
	return nil
}

func match(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func (d *Driver) fetch(ctx context.Context, path string) (string, error) {
	var page string
	err := d.t.Request(path).
		Header("csrfNonce", d.csrfNonce).
		Header("X-Requested-With", "XMLHttpRequest").
		ToString(&page).
		Fetch(ctx)
	return page, err
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	page, err := d.fetch(ctx, docsisPath)
	if err != nil {
		return nil, modem.ReadFailure("docsis page", err)
	}

	dsData := match(dsDataRe, page)
	usData := match(usDataRe, page)
	if dsData == "" && usData == "" {
		return nil, modem.Malformed("docsis page: channel arrays missing", nil)
	}
	if !gjson.Valid(dsData) && !gjson.Valid(usData) {
		return nil, modem.Malformed("docsis page: channel arrays are not JSON", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}

	gjson.Parse(dsData).ForEach(func(_, ch gjson.Result) bool {
		if st := ch.Get("LockStatus"); st.Exists() && !modem.IsLocked(st.String()) {
			return true
		}
		c := modem.DownstreamChannel{
			ChannelID:    int(ch.Get("ChannelID").Int()),
			FrequencyMHz: modem.ParseFrequencyMHz(strings.ReplaceAll(ch.Get("Frequency").String(), ",", ".")),
			Power:        modem.ParseCommaFloat(ch.Get("PowerLevel").String()),
			Corrected:    modem.ParseInt(ch.Get("CorrectableCodewords").String()),
			Uncorrected:  modem.ParseInt(ch.Get("UncorrectableCodewords").String()),
		}
		snr := modem.OptionalFloat(strings.ReplaceAll(ch.Get("SNRLevel").String(), ",", "."))
		if strings.EqualFold(ch.Get("ChannelType").String(), "ofdm") {
			c.Modulation = "ofdm"
			c.MER = snr
			c.DOCSISVersion = modem.DOCSIS31
		} else {
			c.Modulation = modem.NormalizeModulation(ch.Get("Modulation").String())
			c.SNR = snr
			c.DOCSISVersion = modem.DOCSIS30
		}
		r.Downstream = append(r.Downstream, c)
		return true
	})

	gjson.Parse(usData).ForEach(func(_, ch gjson.Result) bool {
		if st := ch.Get("LockStatus"); st.Exists() && !modem.IsLocked(st.String()) {
			return true
		}
		c := modem.UpstreamChannel{
			ChannelID:    int(ch.Get("ChannelID").Int()),
			FrequencyMHz: modem.ParseFrequencyMHz(strings.ReplaceAll(ch.Get("Frequency").String(), ",", ".")),
			Power:        modem.ParseCommaFloat(ch.Get("PowerLevel").String()),
			SymbolRate:   int(modem.ParseInt(ch.Get("SymbolRate").String())),
		}
		if strings.EqualFold(ch.Get("ChannelType").String(), "ofdma") {
			c.Modulation = "ofdma"
			c.Multiplex = "ofdma"
			c.DOCSISVersion = modem.DOCSIS31
		} else {
			c.Modulation = modem.NormalizeModulation(ch.Get("Modulation").String())
			c.Multiplex = strings.ToLower(ch.Get("ChannelType").String())
			c.DOCSISVersion = modem.DOCSIS30
		}
		r.Upstream = append(r.Upstream, c)
		return true
	})

	r.Finalize()
	return r, nil
}

// jsVars collects js_<name> = "<value>" assignments from a status page.
func jsVars(page string) map[string]string {
	vars := make(map[string]string)
	for _, m := range jsVarRe.FindAllStringSubmatch(page, -1) {
		vars[m[1]] = m[2]
	}
	return vars
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("Arris")
	info.Model = "TG3442"
	page, err := d.fetch(ctx, overviewPath)
	if err != nil {
		return info
	}
	vars := jsVars(page)
	info.Firmware = vars["FWVersion"]
	info.Hardware = vars["HWTypeVersion"]
	info.Serial = vars["SerialNumber"]
	info.MAC = vars["CmMac"]
	return info
}

func (d *Driver) ReadConnectionInfo(ctx context.Context) modem.ConnectionInfo {
	page, err := d.fetch(ctx, overviewPath)
	if err != nil {
		return modem.ConnectionInfo{}
	}
	vars := jsVars(page)
	return modem.ConnectionInfo{
		WANIP:          vars["WanIP"],
		DownstreamMbps: modem.ParseCommaFloat(vars["DsSpeed"]),
		UpstreamMbps:   modem.ParseCommaFloat(vars["UsSpeed"]),
		ConnectionType: "cable",
	}
}

func (d *Driver) Close() error {
	if d.csrfNonce == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), modem.DefaultTimeout)
	defer cancel()

	_, err := d.fetch(ctx, logoutPath)
	d.csrfNonce = ""
	d.t.ResetSession()
	return err
}
