// Package ch7465 reads DOCSIS data from Compal CH7465 (Connect Box) modems.
// The password is SHA-256 hashed client side and every request carries the
// rotating sessionToken cookie as a form field.
package ch7465

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/google/go-querystring/query"
)

const (
	Vendor     = "ch7465"
	DefaultURL = "http://192.168.0.1"

	homePath   = "/"
	getterPath = "/xml/getter.xml"
	setterPath = "/xml/setter.xml"

	funGlobalSettings = 2
	funDownstream     = 10
	funUpstream       = 11
	funLogin          = 15
	funLogout         = 16
	funCMSystemInfo   = 144

	tokenCookie = "sessionToken"
)

type Driver struct {
	t        *modem.Transport
	username string
	password string
	sid      string
}

func New(baseURL, username, password string) *Driver {
	if username == "" {
		username = "NULL"
	}
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.SlowTimeout),
		username: username,
		password: password,
	}
}

type request struct {
	Token    string `url:"token"`
	Fun      int    `url:"fun"`
	Username string `url:"Username,omitempty"`
	Password string `url:"Password,omitempty"`
}

// call posts to getter.xml or setter.xml with the current session token.
func (d *Driver) call(ctx context.Context, path string, req request) (string, error) {
	req.Token = d.t.Cookie(tokenCookie)
	form, err := query.Values(req)
	if err != nil {
		return "", err
	}
	var body string
	err = d.t.Request(path).BodyForm(form).ToString(&body).Fetch(ctx)
	return body, err
}

// HashPassword returns the hex SHA-256 of the password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (d *Driver) Login(ctx context.Context) error {
	d.sid = ""
	d.t.ResetSession()

	if err := d.t.Request(homePath).Fetch(ctx); err != nil {
		return modem.LoginFailure("fetch session token", err)
	}
	if d.t.Cookie(tokenCookie) == "" {
		return modem.ProtocolError("device did not issue a session token", nil)
	}

	body, err := d.call(ctx, setterPath, request{
		Fun:      funLogin,
		Username: d.username,
		Password: HashPassword(d.password),
	})
	if err != nil {
		return modem.LoginFailure("send credentials", err)
	}

	sid, err := parseLoginResponse(body)
	if err != nil {
		return err
	}
	d.sid = sid
	d.t.SetCookie("SID", sid)
	return nil
}

// parseLoginResponse reads "successful;SID=<n>" or maps a KDG error token.
func parseLoginResponse(body string) (string, error) {
	body = strings.TrimSpace(body)
	fields := strings.Split(body, ";")
	token := fields[0]

	switch {
	case token == "successful":
		for _, f := range fields[1:] {
			if k, v, ok := strings.Cut(f, "="); ok && k == "SID" && v != "" {
				return v, nil
			}
		}
		return "", modem.ProtocolError("login succeeded without a session id", nil)
	case token == "KDGloginincorrect" || token == "idloginincorrect":
		ae := modem.InvalidCredentials("wrong password")
		if len(fields) > 1 {
			if secs, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil && secs > 0 {
				ae.RetryAfter = time.Duration(secs) * time.Second
				ae.Detail += ", retry in " + ae.RetryAfter.String()
			}
		}
		return "", ae
	case token == "KDGloginUserNotAllowed":
		return "", modem.InvalidCredentials("account is not permitted to log in")
	case token == "KDGchangePW":
		return "", modem.InvalidCredentials("password change required in the web interface")
	case token == "KDGloginlocked" || token == "KDGloginlockout":
		return "", modem.AccountLocked("account locked by the device", 0)
	case token == "KDGloginOtherUser":
		return "", modem.ProtocolError("another user is logged in", nil)
	default:
		return "", modem.ProtocolError("unexpected login response "+strconv.Quote(truncate(body, 64)), nil)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type downstreamTable struct {
	Channels []struct {
		Frequency   string `xml:"freq"`
		Power       string `xml:"pow"`
		SNR         string `xml:"snr"`
		Modulation  string `xml:"mod"`
		ChannelID   string `xml:"chid"`
		PreRS       string `xml:"PreRs"`
		PostRS      string `xml:"PostRs"`
		QAMLocked   string `xml:"IsQamLocked"`
		FECLocked   string `xml:"IsFECLocked"`
		MPEG2Locked string `xml:"IsMpegLocked"`
	} `xml:"downstream"`
}

type upstreamTable struct {
	Channels []struct {
		ChannelID  string `xml:"usid"`
		Frequency  string `xml:"freq"`
		Power      string `xml:"power"`
		SymbolRate string `xml:"srate"`
		Modulation string `xml:"mod"`
		Type       string `xml:"ustype"`
	} `xml:"upstream"`
}

func (d *Driver) getXML(ctx context.Context, fun int, v any) error {
	body, err := d.call(ctx, getterPath, request{Fun: fun})
	if err != nil {
		return err
	}
	if err := xml.Unmarshal([]byte(body), v); err != nil {
		return modem.Malformed("getter fun="+strconv.Itoa(fun), err)
	}
	return nil
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	var ds downstreamTable
	if err := d.getXML(ctx, funDownstream, &ds); err != nil {
		return nil, modem.ReadFailure("downstream table", err)
	}
	var us upstreamTable
	if err := d.getXML(ctx, funUpstream, &us); err != nil {
		return nil, modem.ReadFailure("upstream table", err)
	}
	if len(ds.Channels) == 0 && len(us.Channels) == 0 {
		return nil, modem.Malformed("no channels in downstream or upstream table", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}
	for _, ch := range ds.Channels {
		if ch.QAMLocked != "" && ch.QAMLocked != "1" {
			continue
		}
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     int(modem.ParseInt(ch.ChannelID)),
			FrequencyMHz:  modem.ParseFrequencyMHz(ch.Frequency),
			Power:         modem.ParseFloat(ch.Power),
			Modulation:    modem.NormalizeModulation(ch.Modulation),
			SNR:           modem.OptionalFloat(ch.SNR),
			Corrected:     modem.ParseInt(ch.PreRS),
			Uncorrected:   modem.ParseInt(ch.PostRS),
			DOCSISVersion: modem.DOCSIS30,
		})
	}
	for _, ch := range us.Channels {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:    int(modem.ParseInt(ch.ChannelID)),
			FrequencyMHz: modem.ParseFrequencyMHz(ch.Frequency),
			Power:        modem.ParseFloat(ch.Power),
			Modulation:   modem.NormalizeModulation(ch.Modulation),
			// srate is reported in MSym/s
			SymbolRate:    int(modem.ParseFloat(ch.SymbolRate)*1000 + 0.5),
			Multiplex:     upstreamType(ch.Type),
			DOCSISVersion: modem.DOCSIS30,
		})
	}

	r.Finalize()
	return r, nil
}

func upstreamType(t string) string {
	switch strings.TrimSpace(t) {
	case "1":
		return "tdma"
	case "2":
		return "atdma"
	case "3":
		return "scdma"
	}
	return strings.ToLower(t)
}

type globalSettings struct {
	SwVersion string `xml:"SwVersion"`
	Model     string `xml:"ConfigVenderModel"`
}

type cmSystemInfo struct {
	Hardware string `xml:"cm_hardware_version"`
	MAC      string `xml:"cm_mac_addr"`
	Serial   string `xml:"cm_serial_number"`
	Uptime   string `xml:"cm_system_uptime"`
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("Compal")
	info.Model = "CH7465"

	var gs globalSettings
	if err := d.getXML(ctx, funGlobalSettings, &gs); err == nil {
		if gs.Model != "" {
			info.Model = gs.Model
		}
		info.Firmware = gs.SwVersion
	}
	var si cmSystemInfo
	if err := d.getXML(ctx, funCMSystemInfo, &si); err == nil {
		info.Hardware = si.Hardware
		info.MAC = si.MAC
		info.Serial = si.Serial
		info.Uptime = parseUptime(si.Uptime)
	}
	return info
}

// parseUptime reads "12day(s)3h:4m:5s".
func parseUptime(s string) time.Duration {
	var days, h, m, sec int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%dday(s)%dh:%dm:%ds", &days, &h, &m, &sec); err != nil {
		return 0
	}
	return time.Duration(days)*24*time.Hour + time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

// ReadConnectionInfo returns nothing: the device runs in modem mode.
func (d *Driver) ReadConnectionInfo(context.Context) modem.ConnectionInfo {
	return modem.ConnectionInfo{}
}

func (d *Driver) Close() error {
	if d.sid == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), modem.DefaultTimeout)
	defer cancel()

	_, err := d.call(ctx, setterPath, request{Fun: funLogout})
	d.sid = ""
	d.t.ResetSession()
	return err
}
