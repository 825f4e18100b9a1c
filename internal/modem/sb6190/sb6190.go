// Package sb6190 reads DOCSIS data from Arris SURFboard SB6190 modems. The
// device has no JSON API; channel tables are scraped from the status page.
package sb6190

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/carlmjohnson/requests"
	"github.com/google/go-querystring/query"
)

const (
	Vendor     = "sb6190"
	DefaultURL = "http://192.168.100.1"

	loginPath  = "/cgi-bin/adv_pwd_cgi"
	statusPath = "/cgi-bin/status"
	swinfoPath = "/cgi-bin/swinfo"

	dsHeading = "Downstream Bonded Channels"
	usHeading = "Upstream Bonded Channels"
)

var (
	dsColumns = []modem.Column{
		{Name: "lock", Keywords: []string{"lock"}, Fallback: 1},
		{Name: "modulation", Keywords: []string{"modulation"}, Fallback: 2},
		{Name: "id", Keywords: []string{"channel id"}, Fallback: 3},
		{Name: "frequency", Keywords: []string{"frequency"}, Fallback: 4},
		{Name: "power", Keywords: []string{"power"}, Fallback: 5},
		{Name: "snr", Keywords: []string{"snr"}, Fallback: 6},
		{Name: "uncorrected", Keywords: []string{"uncorrect"}, Fallback: 8},
		{Name: "corrected", Keywords: []string{"corrected"}, Fallback: 7},
	}
	usColumns = []modem.Column{
		{Name: "lock", Keywords: []string{"lock"}, Fallback: 1},
		{Name: "type", Keywords: []string{"channel type"}, Fallback: 2},
		{Name: "id", Keywords: []string{"channel id"}, Fallback: 3},
		{Name: "symbolrate", Keywords: []string{"symbol rate"}, Fallback: 4},
		{Name: "frequency", Keywords: []string{"frequency"}, Fallback: 5},
		{Name: "power", Keywords: []string{"power"}, Fallback: 6},
	}
)

type Driver struct {
	t        *modem.Transport
	username string
	password string
}

func New(baseURL, username, password string) *Driver {
	if username == "" {
		username = "admin"
	}
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.DefaultTimeout),
		username: username,
		password: password,
	}
}

type loginForm struct {
	Username string `url:"username"`
	Password string `url:"password"`
}

// Login submits the form and then checks that the status page is served.
// The device keeps no real session.
func (d *Driver) Login(ctx context.Context) error {
	form, err := query.Values(loginForm{Username: d.username, Password: d.password})
	if err != nil {
		return modem.ProtocolError("encode login form", err)
	}

	// older firmware has no login form at all
	err = d.t.Request(loginPath).BodyForm(form).
		CheckStatus(http.StatusOK, http.StatusNotFound).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusUnauthorized, http.StatusForbidden) {
			return modem.InvalidCredentials("login form rejected")
		}
		return modem.LoginFailure("submit login form", err)
	}

	var page string
	err = d.t.Request(statusPath).ToString(&page).Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusUnauthorized, http.StatusForbidden) {
			return modem.InvalidCredentials("status page refused")
		}
		return modem.LoginFailure("fetch status page", err)
	}
	if strings.Contains(page, dsHeading) {
		return nil
	}
	if strings.Contains(strings.ToLower(page), `type="password"`) {
		return modem.InvalidCredentials("status page redirected to login")
	}
	return modem.ProtocolError("status page not recognized", nil)
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	var page string
	if err := d.t.Request(statusPath).ToString(&page).Fetch(ctx); err != nil {
		return nil, modem.ReadFailure("status page", err)
	}
	tables, err := modem.ParseTables(strings.NewReader(page))
	if err != nil {
		return nil, modem.Malformed("status page", err)
	}

	dsTable, dsOK := modem.FindTable(tables, dsHeading)
	usTable, usOK := modem.FindTable(tables, usHeading)
	if !dsOK && !usOK {
		return nil, modem.Malformed("channel tables missing from status page", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}

	if dsOK {
		col, fellBack := dsTable.Resolve(dsColumns)
		if fellBack {
			r.Warn("downstream columns matched by position")
		}
		for _, row := range dsTable.Rows {
			if !modem.IsLocked(modem.Cell(row, col["lock"])) {
				continue
			}
			r.Downstream = append(r.Downstream, modem.DownstreamChannel{
				ChannelID:     int(modem.ParseInt(modem.Cell(row, col["id"]))),
				FrequencyMHz:  modem.ParseFrequencyMHz(modem.Cell(row, col["frequency"])),
				Power:         modem.ParseFloat(modem.Cell(row, col["power"])),
				Modulation:    modem.NormalizeModulation(modem.Cell(row, col["modulation"])),
				SNR:           modem.OptionalFloat(modem.Cell(row, col["snr"])),
				Corrected:     modem.ParseInt(modem.Cell(row, col["corrected"])),
				Uncorrected:   modem.ParseInt(modem.Cell(row, col["uncorrected"])),
				DOCSISVersion: modem.DOCSIS30,
			})
		}
	}

	if usOK {
		col, fellBack := usTable.Resolve(usColumns)
		if fellBack {
			r.Warn("upstream columns matched by position")
		}
		for _, row := range usTable.Rows {
			if !modem.IsLocked(modem.Cell(row, col["lock"])) {
				continue
			}
			chType := modem.Cell(row, col["type"])
			r.Upstream = append(r.Upstream, modem.UpstreamChannel{
				ChannelID:    int(modem.ParseInt(modem.Cell(row, col["id"]))),
				FrequencyMHz: modem.ParseFrequencyMHz(modem.Cell(row, col["frequency"])),
				Power:        modem.ParseFloat(modem.Cell(row, col["power"])),
				// the type column is the only modulation hint this page gives
				Modulation:    modem.NormalizeModulation(chType),
				SymbolRate:    int(modem.ParseInt(modem.Cell(row, col["symbolrate"]))),
				Multiplex:     modem.NormalizeModulation(chType),
				DOCSISVersion: modem.DOCSIS30,
			})
		}
	}

	r.Finalize()
	return r, nil
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("Arris")
	info.Model = "SB6190"

	var page string
	if err := d.t.Request(swinfoPath).ToString(&page).Fetch(ctx); err != nil {
		return info
	}
	tables, err := modem.ParseTables(strings.NewReader(page))
	if err != nil {
		return info
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			if len(row) != 2 {
				continue
			}
			key, val := strings.ToLower(row[0]), row[1]
			switch {
			case strings.Contains(key, "hardware version"):
				info.Hardware = val
			case strings.Contains(key, "software version"):
				info.Firmware = val
			case strings.Contains(key, "mac address"):
				info.MAC = val
			case strings.Contains(key, "serial number"):
				info.Serial = val
			}
		}
	}
	return info
}

// ReadConnectionInfo returns nothing: the SB6190 is a standalone modem.
func (d *Driver) ReadConnectionInfo(context.Context) modem.ConnectionInfo {
	return modem.ConnectionInfo{}
}

// Close drops cookies. There is no server-side session to end.
func (d *Driver) Close() error {
	d.t.ResetSession()
	return nil
}
